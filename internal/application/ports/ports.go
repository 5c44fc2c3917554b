package ports

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// ChainHeadSource reports, for every tracked deployment, the network it
// indexes and the latest block it has reached.
type ChainHeadSource interface {
	GetChainHeadBlocks(ctx context.Context) (map[string]domain.SubgraphStatus, error)
}

// StakeProvider returns the stake backing a gossip sender. Unknown senders
// have zero stake.
type StakeProvider interface {
	GetStake(ctx context.Context, address string) (*uint256.Int, error)
}

// BlockHashSource resolves the canonical hash of a block on a network.
type BlockHashSource interface {
	GetCanonicalBlockHash(ctx context.Context, network string, number uint64) (string, error)
}

// POISource computes our own claimed value for a deployment at a block.
type POISource interface {
	GetWorkItemValue(ctx context.Context, identifier, blockHash string, number uint64) (string, error)
}

// Publisher sends a produced claim to peers and returns its message id.
type Publisher interface {
	Publish(ctx context.Context, identifier, network string, number uint64, value string) (string, error)
}

// MessageSink receives validated inbound claims from the transport layer.
type MessageSink interface {
	Deliver(msg domain.RemoteMessage)
}
