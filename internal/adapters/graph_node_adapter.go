package adapters

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strconv"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

const indexingStatusesQuery = `query {
  indexingStatuses {
    subgraph
    chains {
      network
      latestBlock { hash number }
      chainHeadBlock { hash number }
    }
  }
}`

const blockHashQuery = `query($network: String!, $blockNumber: Int!) {
  blockHashFromNumber(network: $network, blockNumber: $blockNumber)
}`

const proofOfIndexingQuery = `query($subgraph: String!, $blockNumber: Int!, $blockHash: String!, $indexer: String) {
  proofOfIndexing(subgraph: $subgraph, blockNumber: $blockNumber, blockHash: $blockHash, indexer: $indexer)
}`

// GraphNodeAdapter talks to the index-node status API of a graph-node. It
// implements ports.ChainHeadSource, ports.BlockHashSource and ports.POISource.
type GraphNodeAdapter struct {
	gql     *graphQLClient
	indexer string
}

// NewGraphNodeAdapter builds an adapter for endpoint. indexer is passed to
// proofOfIndexing so the POI is bound to our indexer address.
func NewGraphNodeAdapter(endpoint, indexer string, client *nethttp.Client) *GraphNodeAdapter {
	return &GraphNodeAdapter{gql: newGraphQLClient(endpoint, client), indexer: indexer}
}

type blockPointerJSON struct {
	Hash   string `json:"hash"`
	Number string `json:"number"`
}

func (b *blockPointerJSON) toDomain() (domain.BlockPointer, error) {
	n, err := strconv.ParseUint(b.Number, 10, 64)
	if err != nil {
		return domain.BlockPointer{}, fmt.Errorf("invalid block number %q: %w", b.Number, err)
	}
	return domain.BlockPointer{Hash: b.Hash, Number: n}, nil
}

type indexingStatusesJSON struct {
	IndexingStatuses []struct {
		Subgraph string `json:"subgraph"`
		Chains   []struct {
			Network        string            `json:"network"`
			LatestBlock    *blockPointerJSON `json:"latestBlock"`
			ChainHeadBlock *blockPointerJSON `json:"chainHeadBlock"`
		} `json:"chains"`
	} `json:"indexingStatuses"`
}

// GetChainHeadBlocks returns the indexing network and latest indexed block of
// every deployment on the node. Deployments without a latest block yet are
// left out.
func (g *GraphNodeAdapter) GetChainHeadBlocks(ctx context.Context) (map[string]domain.SubgraphStatus, error) {
	var resp indexingStatusesJSON
	if err := g.gql.query(ctx, indexingStatusesQuery, nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]domain.SubgraphStatus, len(resp.IndexingStatuses))
	for _, status := range resp.IndexingStatuses {
		if len(status.Chains) == 0 || status.Chains[0].LatestBlock == nil {
			continue
		}
		chain := status.Chains[0]
		block, err := chain.LatestBlock.toDomain()
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", status.Subgraph, err)
		}
		out[status.Subgraph] = domain.SubgraphStatus{Network: chain.Network, Block: block}
	}
	return out, nil
}

func (g *GraphNodeAdapter) GetCanonicalBlockHash(ctx context.Context, network string, number uint64) (string, error) {
	var resp struct {
		BlockHashFromNumber *string `json:"blockHashFromNumber"`
	}
	vars := map[string]interface{}{"network": network, "blockNumber": number}
	if err := g.gql.query(ctx, blockHashQuery, vars, &resp); err != nil {
		return "", err
	}
	if resp.BlockHashFromNumber == nil || *resp.BlockHashFromNumber == "" {
		return "", fmt.Errorf("no block hash for %s block %d", network, number)
	}
	return *resp.BlockHashFromNumber, nil
}

func (g *GraphNodeAdapter) GetWorkItemValue(ctx context.Context, identifier, blockHash string, number uint64) (string, error) {
	var resp struct {
		ProofOfIndexing *string `json:"proofOfIndexing"`
	}
	vars := map[string]interface{}{
		"subgraph":    identifier,
		"blockNumber": number,
		"blockHash":   blockHash,
	}
	if g.indexer != "" {
		vars["indexer"] = g.indexer
	}
	if err := g.gql.query(ctx, proofOfIndexingQuery, vars, &resp); err != nil {
		return "", err
	}
	if resp.ProofOfIndexing == nil {
		return "", fmt.Errorf("no proof of indexing for %s on block %d", identifier, number)
	}
	return *resp.ProofOfIndexing, nil
}
