package adapters

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/holiman/uint256"
)

const gossipOperatorQuery = `query($id: ID!) {
  graphAccount(id: $id) {
    id
    gossipOperatorOf { id }
  }
}`

const indexerQuery = `query($id: ID!) {
  indexer(id: $id) {
    stakedTokens
    allocations(where: { status: Active }) {
      subgraphDeployment { ipfsHash }
    }
  }
}`

// NetworkSubgraphAdapter resolves gossip operators to indexers through the
// registry subgraph and reads indexer state from the network subgraph. It
// implements ports.StakeProvider.
type NetworkSubgraphAdapter struct {
	registry *graphQLClient
	network  *graphQLClient
}

func NewNetworkSubgraphAdapter(registryEndpoint, networkEndpoint string, client *nethttp.Client) *NetworkSubgraphAdapter {
	return &NetworkSubgraphAdapter{
		registry: newGraphQLClient(registryEndpoint, client),
		network:  newGraphQLClient(networkEndpoint, client),
	}
}

// ResolveIndexer returns the indexer that operator gossips for. ok is false
// when operator is not registered.
func (n *NetworkSubgraphAdapter) ResolveIndexer(ctx context.Context, operator string) (indexer string, ok bool, err error) {
	var resp struct {
		GraphAccount *struct {
			ID               string `json:"id"`
			GossipOperatorOf *struct {
				ID string `json:"id"`
			} `json:"gossipOperatorOf"`
		} `json:"graphAccount"`
	}
	vars := map[string]interface{}{"id": strings.ToLower(operator)}
	if err := n.registry.query(ctx, gossipOperatorQuery, vars, &resp); err != nil {
		return "", false, err
	}
	if resp.GraphAccount == nil || resp.GraphAccount.GossipOperatorOf == nil {
		return "", false, nil
	}
	return resp.GraphAccount.GossipOperatorOf.ID, true, nil
}

type indexerJSON struct {
	Indexer *struct {
		StakedTokens string `json:"stakedTokens"`
		Allocations  []struct {
			SubgraphDeployment struct {
				IPFSHash string `json:"ipfsHash"`
			} `json:"subgraphDeployment"`
		} `json:"allocations"`
	} `json:"indexer"`
}

func (n *NetworkSubgraphAdapter) indexer(ctx context.Context, indexer string) (*indexerJSON, error) {
	var resp indexerJSON
	vars := map[string]interface{}{"id": strings.ToLower(indexer)}
	if err := n.network.query(ctx, indexerQuery, vars, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IndexerStake returns the staked tokens of indexer, zero if unknown.
func (n *NetworkSubgraphAdapter) IndexerStake(ctx context.Context, indexer string) (*uint256.Int, error) {
	resp, err := n.indexer(ctx, indexer)
	if err != nil {
		return nil, err
	}
	if resp.Indexer == nil || resp.Indexer.StakedTokens == "" {
		return new(uint256.Int), nil
	}
	stake, err := uint256.FromDecimal(resp.Indexer.StakedTokens)
	if err != nil {
		return nil, fmt.Errorf("invalid stakedTokens %q for %s: %w", resp.Indexer.StakedTokens, indexer, err)
	}
	return stake, nil
}

// GetStake returns the stake of the indexer that address gossips for.
// Unregistered senders have zero stake.
func (n *NetworkSubgraphAdapter) GetStake(ctx context.Context, address string) (*uint256.Int, error) {
	indexer, ok, err := n.ResolveIndexer(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return n.IndexerStake(ctx, indexer)
}

// ActiveAllocations returns the deployments indexer currently allocates to.
func (n *NetworkSubgraphAdapter) ActiveAllocations(ctx context.Context, indexer string) ([]string, error) {
	resp, err := n.indexer(ctx, indexer)
	if err != nil {
		return nil, err
	}
	if resp.Indexer == nil {
		return nil, nil
	}
	hashes := make([]string, 0, len(resp.Indexer.Allocations))
	for _, alloc := range resp.Indexer.Allocations {
		hashes = append(hashes, alloc.SubgraphDeployment.IPFSHash)
	}
	return hashes, nil
}
