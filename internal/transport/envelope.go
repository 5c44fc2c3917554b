package transport

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers.
const (
	fieldIdentifier  protowire.Number = 1
	fieldNetwork     protowire.Number = 2
	fieldBlockNumber protowire.Number = 3
	fieldNonce       protowire.Number = 4
	fieldRadioName   protowire.Number = 5
	fieldPayload     protowire.Number = 6
	fieldSignature   protowire.Number = 7
)

// Payload field numbers.
const (
	fieldPayloadIdentifier protowire.Number = 1
	fieldPayloadContent    protowire.Number = 2
)

var (
	errMissingSignature = errors.New("missing signature")
	errMissingPayload   = errors.New("missing payload")
)

// Payload is the radio-specific content of an envelope.
type Payload struct {
	Identifier string
	Content    string
}

// Envelope is the signed gossip message exchanged between radios.
type Envelope struct {
	Identifier  string
	Network     string
	BlockNumber uint64
	Nonce       int64
	RadioName   string
	Payload     *Payload
	Signature   []byte
}

func (p *Payload) marshal() []byte {
	var b []byte
	b = appendString(b, fieldPayloadIdentifier, p.Identifier)
	b = appendString(b, fieldPayloadContent, p.Content)
	return b
}

func unmarshalPayload(b []byte) (*Payload, error) {
	p := &Payload{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldPayloadIdentifier && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			p.Identifier, n = v, m
		case num == fieldPayloadContent && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			p.Content, n = v, m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return p, nil
}

// signingBytes is the encoding of every field except the signature.
func (e *Envelope) signingBytes() []byte {
	var b []byte
	b = appendString(b, fieldIdentifier, e.Identifier)
	b = appendString(b, fieldNetwork, e.Network)
	b = protowire.AppendTag(b, fieldBlockNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, e.BlockNumber)
	b = protowire.AppendTag(b, fieldNonce, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Nonce))
	b = appendString(b, fieldRadioName, e.RadioName)
	if e.Payload != nil {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload.marshal())
	}
	return b
}

// Marshal encodes the envelope including its signature.
func (e *Envelope) Marshal() []byte {
	b := e.signingBytes()
	if len(e.Signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Signature)
	}
	return b
}

// UnmarshalEnvelope decodes an envelope. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		n, err = e.consumeField(num, typ, b)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		b = b[n:]
	}
	return e, nil
}

func (e *Envelope) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case typ == protowire.BytesType && (num == fieldIdentifier || num == fieldNetwork || num == fieldRadioName):
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case fieldIdentifier:
			e.Identifier = v
		case fieldNetwork:
			e.Network = v
		default:
			e.RadioName = v
		}
		return n, nil
	case typ == protowire.VarintType && (num == fieldBlockNumber || num == fieldNonce):
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == fieldBlockNumber {
			e.BlockNumber = v
		} else {
			e.Nonce = int64(v)
		}
		return n, nil
	case typ == protowire.BytesType && num == fieldPayload:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		p, err := unmarshalPayload(v)
		if err != nil {
			return 0, err
		}
		e.Payload = p
		return n, nil
	case typ == protowire.BytesType && num == fieldSignature:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		e.Signature = append([]byte(nil), v...)
		return n, nil
	default:
		n := protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		return n, nil
	}
}

// digest is the keccak256 hash that is signed.
func (e *Envelope) digest() []byte {
	return crypto.Keccak256(e.signingBytes())
}

// Sign sets the envelope signature using key.
func (e *Envelope) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(e.digest(), key)
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}

// RecoverSender returns the 0x-prefixed address that signed the envelope.
func (e *Envelope) RecoverSender() (string, error) {
	if len(e.Signature) == 0 {
		return "", errMissingSignature
	}
	pub, err := crypto.SigToPub(e.digest(), e.Signature)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
