package transport

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Marketen/poi-radio/internal/application/domain"
	"github.com/Marketen/poi-radio/internal/application/ports"
	"github.com/Marketen/poi-radio/internal/logger"
	"github.com/Marketen/poi-radio/internal/metrics"
)

const (
	defaultMaxMessageAge = time.Hour
	maxClockSkew         = time.Minute
	dedupSweepInterval   = time.Minute
)

// RadioConfig configures a Radio.
type RadioConfig struct {
	Name          string
	PrivateKey    *ecdsa.PrivateKey
	MaxMessageAge time.Duration
}

// Radio signs outgoing claims, verifies incoming ones and hands them to a
// sink. It implements ports.Publisher.
type Radio struct {
	name   string
	key    *ecdsa.PrivateKey
	self   string
	maxAge time.Duration

	node  *Node
	sink  ports.MessageSink
	dedup *dedup
	now   func() time.Time
}

// NewRadio wires a Radio on top of node. Frames received by node are
// verified and delivered to sink.
func NewRadio(cfg RadioConfig, node *Node, sink ports.MessageSink) (*Radio, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("private key is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("radio name is required")
	}
	if node == nil {
		return nil, errors.New("node is required")
	}
	maxAge := cfg.MaxMessageAge
	if maxAge == 0 {
		maxAge = defaultMaxMessageAge
	}

	r := &Radio{
		name:   cfg.Name,
		key:    cfg.PrivateKey,
		self:   crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey).Hex(),
		maxAge: maxAge,
		node:   node,
		sink:   sink,
		dedup:  newDedup(maxAge),
		now:    time.Now,
	}
	node.onFrame = r.handleFrame
	return r, nil
}

// Address is the gossip identity of this radio.
func (r *Radio) Address() string {
	return r.self
}

// Run expires dedup entries until ctx is cancelled.
func (r *Radio) Run(ctx context.Context) {
	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.dedup.expire()
		case <-ctx.Done():
			return
		}
	}
}

// Publish signs and broadcasts a claim and returns its message id.
func (r *Radio) Publish(ctx context.Context, identifier, network string, number uint64, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	env := &Envelope{
		Identifier:  identifier,
		Network:     network,
		BlockNumber: number,
		Nonce:       r.now().Unix(),
		RadioName:   r.name,
		Payload:     &Payload{Identifier: identifier, Content: value},
	}
	if err := env.Sign(r.key); err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	frame := env.Marshal()
	r.dedup.check(frame)

	if r.node.PeerCount() == 0 {
		logger.Warn("No connected peers, message for %s on block %d only recorded locally", identifier, number)
	}
	if err := r.node.Broadcast(frame, nil); err != nil {
		return "", err
	}
	return MessageID(frame), nil
}

func (r *Radio) handleFrame(from *peer, frame []byte) {
	if !r.dedup.check(frame) {
		return
	}

	msg, err := r.verify(frame)
	if err != nil {
		logger.Debug("Dropping message from %s: %v", from.addr, err)
		metrics.MessagesDropped.WithLabelValues(dropReason(err)).Inc()
		return
	}

	// Relay verified messages so peers that are not directly connected see
	// them too.
	if err := r.node.Broadcast(frame, from); err != nil {
		logger.Debug("Relay failed: %v", err)
	}

	r.sink.Deliver(msg)
}

type verifyError struct {
	reason string
	err    error
}

func (e *verifyError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *verifyError) Unwrap() error { return e.err }

func dropReason(err error) string {
	var ve *verifyError
	if errors.As(err, &ve) {
		return ve.reason
	}
	return "unknown"
}

// verify decodes frame and checks it is a well-formed, correctly signed,
// fresh message for this radio.
func (r *Radio) verify(frame []byte) (domain.RemoteMessage, error) {
	env, err := UnmarshalEnvelope(frame)
	if err != nil {
		return domain.RemoteMessage{}, &verifyError{"decode", err}
	}
	if env.RadioName != r.name {
		return domain.RemoteMessage{}, &verifyError{"radio", fmt.Errorf("message for radio %q", env.RadioName)}
	}
	if env.Payload == nil {
		return domain.RemoteMessage{}, &verifyError{"payload", errMissingPayload}
	}
	if env.Payload.Identifier != env.Identifier {
		return domain.RemoteMessage{}, &verifyError{"payload", fmt.Errorf("payload identifier %q does not match %q", env.Payload.Identifier, env.Identifier)}
	}

	sender, err := env.RecoverSender()
	if err != nil {
		return domain.RemoteMessage{}, &verifyError{"invalid_sender", err}
	}
	if strings.EqualFold(sender, r.self) {
		return domain.RemoteMessage{}, &verifyError{"self", errors.New("message from self")}
	}

	sent := time.Unix(env.Nonce, 0)
	now := r.now()
	if now.Sub(sent) > r.maxAge || sent.Sub(now) > maxClockSkew {
		return domain.RemoteMessage{}, &verifyError{"time", fmt.Errorf("nonce %d outside accepted window", env.Nonce)}
	}

	return domain.RemoteMessage{
		Sender:      sender,
		Identifier:  env.Identifier,
		Network:     env.Network,
		BlockNumber: env.BlockNumber,
		Value:       env.Payload.Content,
		Nonce:       env.Nonce,
	}, nil
}
