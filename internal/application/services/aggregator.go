package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/application/domain"
	"github.com/Marketen/poi-radio/internal/application/ports"
)

// ErrInvalidSender is returned when a buffered message carries a sender that
// is not a valid address.
var ErrInvalidSender = errors.New("invalid message sender")

// Aggregator folds buffered peer messages into stake-weighted claims.
type Aggregator struct {
	Stakes ports.StakeProvider
}

func NewAggregator(stakes ports.StakeProvider) *Aggregator {
	return &Aggregator{Stakes: stakes}
}

// Aggregate builds the remote attestations map from messages in one pass.
//
// A sender's stake is looked up once per call and reused for every message it
// sent. A sender backing the same value twice is counted once; a sender
// backing different values counts towards each of them. Any sender or stake
// lookup failure aborts the whole call.
func (a *Aggregator) Aggregate(ctx context.Context, messages []domain.RemoteMessage) (domain.RemoteAttestationsMap, error) {
	remote := make(domain.RemoteAttestationsMap)
	stakes := make(map[string]*uint256.Int)

	for _, msg := range messages {
		if !common.IsHexAddress(msg.Sender) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSender, msg.Sender)
		}

		stake, ok := stakes[msg.Sender]
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s, err := a.Stakes.GetStake(ctx, msg.Sender)
			if err != nil {
				return nil, fmt.Errorf("stake lookup for %s: %w", msg.Sender, err)
			}
			if s == nil {
				s = new(uint256.Int)
			}
			stake = s
			stakes[msg.Sender] = stake
		}

		blocks, ok := remote[msg.Identifier]
		if !ok {
			blocks = make(map[uint64][]domain.Attestation)
			remote[msg.Identifier] = blocks
		}

		attestations := blocks[msg.BlockNumber]
		found := false
		for i := range attestations {
			if attestations[i].Value == msg.Value {
				attestations[i].Endorse(msg.Sender, stake)
				found = true
				break
			}
		}
		if !found {
			attestations = append(attestations, domain.NewAttestation(msg.Value, stake, msg.Sender))
		}
		blocks[msg.BlockNumber] = attestations
	}

	return remote, nil
}
