package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/adapters"
	"github.com/Marketen/poi-radio/internal/application/ports"
	"github.com/Marketen/poi-radio/internal/application/services"
	"github.com/Marketen/poi-radio/internal/config"
	"github.com/Marketen/poi-radio/internal/logger"
	"github.com/Marketen/poi-radio/internal/metrics"
	"github.com/Marketen/poi-radio/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	operator := crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey).Hex()
	logger.Info("Starting %s as %s", cfg.RadioName, operator)
	logger.Info("Graph node status endpoint: %s", cfg.GraphNodeStatusURL)
	logger.Info("Poll interval: %s, wait blocks: %d", cfg.PollInterval, cfg.WaitBlocks)
	logger.Info("Supported networks: %s", strings.Join(cfg.Networks.Names(), ", "))

	network := adapters.NewNetworkSubgraphAdapter(cfg.RegistrySubgraphURL, cfg.NetworkSubgraphURL, nil)

	// Decide which indexer we attest for:
	// - If INDEXER_ADDRESS is set, use it.
	// - Otherwise resolve the operator through the registry subgraph.
	indexer := cfg.IndexerAddress
	if indexer == "" {
		resolved, ok, err := network.ResolveIndexer(ctx, operator)
		if err != nil {
			logger.Error("Failed to resolve indexer for operator %s: %v", operator, err)
			os.Exit(1)
		}
		if !ok {
			logger.Error("Operator %s is not registered to any indexer; set INDEXER_ADDRESS", operator)
			os.Exit(1)
		}
		indexer = resolved
	}
	logger.Info("Attesting for indexer %s", indexer)

	ownStake, err := network.IndexerStake(ctx, indexer)
	if err != nil {
		logger.Warn("Could not fetch own stake, counting it as zero: %v", err)
		ownStake = new(uint256.Int)
	}

	topics := cfg.Topics
	if len(topics) == 0 {
		logger.Info("No topics configured; fetching active allocations of %s", indexer)
		topics, err = network.ActiveAllocations(ctx, indexer)
		if err != nil {
			logger.Error("Failed to fetch active allocations: %v", err)
			os.Exit(1)
		}
	}
	logger.Info("Tracking %d deployments", len(topics))

	graphNode := adapters.NewGraphNodeAdapter(cfg.GraphNodeStatusURL, indexer, nil)

	var chainHeads ports.ChainHeadSource = graphNode
	if cfg.BeaconNodeURL != "" {
		chainHeads, err = adapters.NewBeaconHTTPAdapter(cfg.BeaconNodeURL, cfg.BeaconNetwork, graphNode)
		if err != nil {
			logger.Error("Failed to create beacon HTTP adapter: %v", err)
			os.Exit(1)
		}
		logger.Info("Capping %s heads at the finalized block from %s", cfg.BeaconNetwork, cfg.BeaconNodeURL)
	}

	var blockHashes ports.BlockHashSource = graphNode
	if len(cfg.EthRPCURLs) > 0 {
		rpc, err := adapters.NewEthRPCBlockHashAdapter(ctx, cfg.EthRPCURLs, graphNode)
		if err != nil {
			logger.Error("Failed to dial execution clients: %v", err)
			os.Exit(1)
		}
		defer rpc.Close()
		blockHashes = rpc
	}

	buffer := services.NewMessageBuffer()
	local := services.NewLocalStore()
	ingestor := services.NewIngestor(buffer, operator, topics)

	node, err := transport.NewNode(transport.NodeConfig{
		ListenAddr: cfg.ListenAddr,
		BootNodes:  cfg.BootNodes,
	})
	if err != nil {
		logger.Error("Failed to create gossip node: %v", err)
		os.Exit(1)
	}
	radio, err := transport.NewRadio(transport.RadioConfig{
		Name:          cfg.RadioName,
		PrivateKey:    cfg.PrivateKey,
		MaxMessageAge: cfg.MaxMessageAge,
	}, node, ingestor)
	if err != nil {
		logger.Error("Failed to create radio: %v", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		logger.Error("Failed to start gossip node: %v", err)
		os.Exit(1)
	}
	defer node.Close()
	logger.Info("Gossip node listening on %s with %d boot nodes", node.Addr(), len(cfg.BootNodes))

	checker := services.NewPOIChecker(
		chainHeads,
		blockHashes,
		graphNode,
		radio,
		services.NewAggregator(network),
		buffer,
		local,
		services.POICheckerConfig{
			PollInterval:       cfg.PollInterval,
			WaitBlocks:         cfg.WaitBlocks,
			Networks:           cfg.Networks,
			OwnStake:           ownStake,
			PanicIfPOIDiverged: cfg.PanicIfPOIDiverged,
			MessageMaxAge:      cfg.MaxMessageAge,
			Topics:             topics,
		},
	)

	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr)
	}
	go radio.Run(ctx)

	// Handle SIGINT / SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- checker.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Warn("Received signal %s, shutting down...", sig)
		cancel()
		<-done
	case err := <-done:
		if errors.Is(err, services.ErrPOIDiverged) {
			logger.Error("Stopping: %v", err)
			cancel()
			node.Close()
			os.Exit(1)
		}
	}
}
