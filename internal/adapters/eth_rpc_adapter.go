package adapters

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Marketen/poi-radio/internal/application/ports"
)

// EthRPCBlockHashAdapter resolves canonical block hashes from execution
// clients, one per network, and defers to a fallback for other networks.
type EthRPCBlockHashAdapter struct {
	clients  map[string]*ethclient.Client
	fallback ports.BlockHashSource
}

// NewEthRPCBlockHashAdapter dials every url of urls (network -> url).
func NewEthRPCBlockHashAdapter(ctx context.Context, urls map[string]string, fallback ports.BlockHashSource) (*EthRPCBlockHashAdapter, error) {
	a := &EthRPCBlockHashAdapter{
		clients:  make(map[string]*ethclient.Client, len(urls)),
		fallback: fallback,
	}
	for network, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dial %s rpc: %w", network, err)
		}
		a.clients[network] = client
	}
	return a, nil
}

func (a *EthRPCBlockHashAdapter) GetCanonicalBlockHash(ctx context.Context, network string, number uint64) (string, error) {
	client, ok := a.clients[network]
	if !ok {
		if a.fallback == nil {
			return "", fmt.Errorf("no block hash source for network %s", network)
		}
		return a.fallback.GetCanonicalBlockHash(ctx, network, number)
	}

	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return "", fmt.Errorf("header %d on %s: %w", number, network, err)
	}
	return header.Hash().Hex(), nil
}

func (a *EthRPCBlockHashAdapter) Close() {
	for _, client := range a.clients {
		client.Close()
	}
}
