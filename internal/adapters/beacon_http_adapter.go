package adapters

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/rs/zerolog"

	"github.com/Marketen/poi-radio/internal/application/domain"
	"github.com/Marketen/poi-radio/internal/application/ports"
	"github.com/Marketen/poi-radio/internal/logger"
	"github.com/Marketen/poi-radio/internal/metrics"
)

// beaconFinalizedHeadSource wraps a ChainHeadSource and caps the heads of one
// execution network at the execution block finalized by a beacon node, so
// claims are only produced for blocks that cannot be reorged.
type beaconFinalizedHeadSource struct {
	client    *eth2http.Service
	next      ports.ChainHeadSource
	network   string
	finalized func(ctx context.Context) (domain.BlockPointer, error)
}

// NewBeaconHTTPAdapter is the constructor used from main.go.
func NewBeaconHTTPAdapter(endpoint, network string, next ports.ChainHeadSource) (ports.ChainHeadSource, error) {
	customHTTPClient := &nethttp.Client{
		Timeout: 2000 * time.Second, // global upper bound; per-request timeout below
	}

	client, err := eth2http.New(
		context.Background(),
		eth2http.WithAddress(endpoint),
		eth2http.WithHTTPClient(customHTTPClient),
		// Silence go-eth2-client logs unless they are warnings+.
		eth2http.WithLogLevel(zerolog.WarnLevel),
		// This is the per-request timeout used by go-eth2-client.
		eth2http.WithTimeout(20*time.Second),
	)
	if err != nil {
		return nil, err
	}

	b := &beaconFinalizedHeadSource{
		client:  client.(*eth2http.Service),
		next:    next,
		network: network,
	}
	b.finalized = b.finalizedExecutionBlock
	return b, nil
}

// GetChainHeadBlocks returns the wrapped source's heads with the configured
// network capped at the finalized execution block. When the beacon node
// cannot be reached the deployments of that network are left out for this
// call and every other network is returned unchanged.
func (b *beaconFinalizedHeadSource) GetChainHeadBlocks(ctx context.Context) (map[string]domain.SubgraphStatus, error) {
	statuses, err := b.next.GetChainHeadBlocks(ctx)
	if err != nil {
		return nil, err
	}

	finalized, err := b.finalized(ctx)
	if err != nil {
		logger.Warn("Could not fetch the finalized %s block, skipping its deployments: %v", b.network, err)
		metrics.ExternalErrors.WithLabelValues("beacon_finalized").Inc()
		return withoutNetwork(statuses, b.network), nil
	}
	return capToFinalized(statuses, b.network, finalized), nil
}

// finalizedExecutionBlock returns the execution payload of the finalized
// beacon block.
func (b *beaconFinalizedHeadSource) finalizedExecutionBlock(ctx context.Context) (domain.BlockPointer, error) {
	block, err := b.client.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{
		Block: "finalized",
	})
	if err != nil {
		return domain.BlockPointer{}, err
	}
	if block == nil || block.Data == nil {
		return domain.BlockPointer{}, fmt.Errorf("empty finalized block")
	}

	number, err := block.Data.ExecutionBlockNumber()
	if err != nil {
		return domain.BlockPointer{}, err
	}
	hash, err := block.Data.ExecutionBlockHash()
	if err != nil {
		return domain.BlockPointer{}, err
	}
	return domain.BlockPointer{Hash: fmt.Sprintf("%#x", hash[:]), Number: number}, nil
}

func withoutNetwork(statuses map[string]domain.SubgraphStatus, network string) map[string]domain.SubgraphStatus {
	out := make(map[string]domain.SubgraphStatus, len(statuses))
	for id, status := range statuses {
		if status.Network != network {
			out[id] = status
		}
	}
	return out
}

// capToFinalized lowers every head of network that is past finalized.
func capToFinalized(
	statuses map[string]domain.SubgraphStatus,
	network string,
	finalized domain.BlockPointer,
) map[string]domain.SubgraphStatus {
	out := make(map[string]domain.SubgraphStatus, len(statuses))
	for id, status := range statuses {
		if status.Network == network && status.Block.Number > finalized.Number {
			status.Block = finalized
		}
		out[id] = status
	}
	return out
}
