package domain

import (
	"slices"

	"github.com/holiman/uint256"
)

// BlockPointer is the latest known head of a network.
type BlockPointer struct {
	Hash   string
	Number uint64
}

// SubgraphStatus pairs a deployment's indexing network with its latest block.
type SubgraphStatus struct {
	Network string
	Block   BlockPointer
}

// BlockClock tracks per-network scheduling state.
//
// CurrentBlock is the last seen chain head of the network. CompareBlock is the
// block at which outstanding claims become eligible for comparison; zero means
// nothing is pending.
type BlockClock struct {
	CurrentBlock uint64
	CompareBlock uint64
}

// Attestation is a claimed POI together with the stake of every distinct
// sender that endorsed it.
type Attestation struct {
	Value       string
	StakeWeight uint256.Int
	Senders     []string
}

// NewAttestation builds an attestation backed by a single sender. An empty
// sender yields a local attestation with no sender entries.
func NewAttestation(value string, stake *uint256.Int, sender string) Attestation {
	a := Attestation{Value: value}
	if stake != nil {
		a.StakeWeight.Set(stake)
	}
	if sender != "" {
		a.Senders = []string{sender}
	}
	return a
}

// HasSender reports whether address already backs this attestation.
func (a *Attestation) HasSender(address string) bool {
	return slices.Contains(a.Senders, address)
}

// Endorse adds address and its stake to the attestation. It returns false and
// leaves the attestation unchanged if address was already counted. The weight
// saturates at the largest uint256 instead of wrapping.
func (a *Attestation) Endorse(address string, stake *uint256.Int) bool {
	if a.HasSender(address) {
		return false
	}
	if _, overflow := a.StakeWeight.AddOverflow(&a.StakeWeight, stake); overflow {
		a.StakeWeight.SetAllOne()
	}
	a.Senders = append(a.Senders, address)
	return true
}

// LocalAttestationsMap maps identifier -> block -> our own attestation.
type LocalAttestationsMap map[string]map[uint64]Attestation

// RemoteAttestationsMap maps identifier -> block -> distinct remote claims.
type RemoteAttestationsMap map[string]map[uint64][]Attestation

// RemoteMessage is a validated inbound claim waiting in the ingestion buffer.
type RemoteMessage struct {
	Sender      string
	Identifier  string
	Network     string
	BlockNumber uint64
	Value       string
	Nonce       int64
}
