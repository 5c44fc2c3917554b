package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/application/domain"
	"github.com/Marketen/poi-radio/internal/application/ports"
	"github.com/Marketen/poi-radio/internal/logger"
	"github.com/Marketen/poi-radio/internal/metrics"
)

// DefaultWaitBlocks is how many blocks a produced claim waits for peer
// messages before it is compared.
const DefaultWaitBlocks = 2

// DefaultMessageMaxAge bounds how long a buffered peer message is kept when
// no comparison settles it.
const DefaultMessageMaxAge = time.Hour

// ErrPOIDiverged is returned by Run when a divergence is found and the
// checker is configured to stop on it.
var ErrPOIDiverged = errors.New("POI diverged from stake-weighted majority")

// POICheckerConfig holds the scheduling policy of a POIChecker.
type POICheckerConfig struct {
	PollInterval       time.Duration
	WaitBlocks         uint64
	Networks           domain.NetworkRegistry
	OwnStake           *uint256.Int
	PanicIfPOIDiverged bool

	// MessageMaxAge expires buffered messages by their nonce, so claims for
	// blocks or deployments we never compare do not accumulate.
	MessageMaxAge time.Duration

	// Topics restricts the deployments we produce claims for. Empty means
	// every deployment reported by the chain head source.
	Topics []string
}

type POIChecker struct {
	ChainHeads  ports.ChainHeadSource
	BlockHashes ports.BlockHashSource
	POIs        ports.POISource
	Publisher   ports.Publisher

	Aggregator *Aggregator
	Buffer     *MessageBuffer
	Local      *LocalStore

	cfg    POICheckerConfig
	clocks map[string]*domain.BlockClock // per network
	now    func() time.Time
}

// NewPOIChecker constructs a POIChecker with dependencies injected.
func NewPOIChecker(
	chainHeads ports.ChainHeadSource,
	blockHashes ports.BlockHashSource,
	pois ports.POISource,
	publisher ports.Publisher,
	aggregator *Aggregator,
	buffer *MessageBuffer,
	local *LocalStore,
	cfg POICheckerConfig,
) *POIChecker {
	if cfg.Networks == nil {
		cfg.Networks = domain.DefaultNetworks()
	}
	if cfg.OwnStake == nil {
		cfg.OwnStake = new(uint256.Int)
	}
	if cfg.MessageMaxAge <= 0 {
		cfg.MessageMaxAge = DefaultMessageMaxAge
	}
	return &POIChecker{
		ChainHeads:  chainHeads,
		BlockHashes: blockHashes,
		POIs:        pois,
		Publisher:   publisher,
		Aggregator:  aggregator,
		Buffer:      buffer,
		Local:       local,
		cfg:         cfg,
		clocks:      make(map[string]*domain.BlockClock),
		now:         time.Now,
	}
}

// Run starts the periodic loop. If a tick takes longer than the interval, the
// missed ticks are dropped. Run returns nil when ctx is cancelled and
// ErrPOIDiverged when a divergence is found with PanicIfPOIDiverged set.
func (a *POIChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Clock returns a copy of the block clock of network.
func (a *POIChecker) Clock(network string) (domain.BlockClock, bool) {
	clock, ok := a.clocks[network]
	if !ok {
		return domain.BlockClock{}, false
	}
	return *clock, true
}

// Tick runs one pass over every tracked deployment.
func (a *POIChecker) Tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	a.expireMessages()

	heads, err := a.ChainHeads.GetChainHeadBlocks(ctx)
	if err != nil {
		logger.Error("Could not query indexing statuses, pull again later: %v", err)
		metrics.ExternalErrors.WithLabelValues("chain_heads").Inc()
		return nil
	}

	byNetwork := a.groupByNetwork(heads)
	networks := make([]string, 0, len(byNetwork))
	for network := range byNetwork {
		networks = append(networks, network)
	}
	sort.Strings(networks)

	for _, network := range networks {
		if ctx.Err() != nil {
			return nil
		}
		if err := a.checkNetwork(ctx, network, byNetwork[network], heads); err != nil {
			return err
		}
	}
	return nil
}

// groupByNetwork maps each supported network to the sorted deployments
// indexing it. Deployments on unknown networks are skipped.
func (a *POIChecker) groupByNetwork(heads map[string]domain.SubgraphStatus) map[string][]string {
	identifiers := a.cfg.Topics
	if len(identifiers) == 0 {
		identifiers = make([]string, 0, len(heads))
		for id := range heads {
			identifiers = append(identifiers, id)
		}
	}

	groups := make(map[string][]string)
	for _, id := range identifiers {
		status, ok := heads[id]
		if !ok {
			logger.Error("Could not query the subgraph's indexing network, check Graph node's indexing statuses of subgraph deployment %s", id)
			continue
		}
		if _, ok := a.cfg.Networks.Interval(status.Network); !ok {
			logger.Warn("Subgraph %s is indexing an unsupported network %q, skipping", id, status.Network)
			continue
		}
		groups[status.Network] = append(groups[status.Network], id)
	}
	for _, ids := range groups {
		sort.Strings(ids)
	}
	return groups
}

// expireMessages drops buffered messages whose nonce is older than
// MessageMaxAge.
func (a *POIChecker) expireMessages() {
	cutoff := a.now().Add(-a.cfg.MessageMaxAge).Unix()
	expired := a.Buffer.Prune(func(msg domain.RemoteMessage) bool {
		return msg.Nonce < cutoff
	})
	if expired > 0 {
		logger.Debug("Expired %d buffered messages older than %s", expired, a.cfg.MessageMaxAge)
		metrics.BufferedMessages.Set(float64(a.Buffer.Len()))
	}
}

func (a *POIChecker) clock(network string) *domain.BlockClock {
	clock, ok := a.clocks[network]
	if !ok {
		clock = &domain.BlockClock{}
		a.clocks[network] = clock
	}
	return clock
}

func (a *POIChecker) checkNetwork(
	ctx context.Context,
	network string,
	identifiers []string,
	heads map[string]domain.SubgraphStatus,
) error {
	interval, _ := a.cfg.Networks.Interval(network)
	clock := a.clock(network)

	var head uint64
	for _, id := range identifiers {
		head = max(head, heads[id].Block.Number)
	}
	clock.CurrentBlock = head
	metrics.ChainHead.WithLabelValues(network).Set(float64(head))

	logger.Debug("Network %s: current block %d, compare block %d", network, clock.CurrentBlock, clock.CompareBlock)

	if clock.CompareBlock != 0 && clock.CurrentBlock >= clock.CompareBlock {
		if err := a.compareNetwork(ctx, network, identifiers, clock); err != nil {
			return err
		}
	}

	// Every deployment on a network attests the same message block, derived
	// from the network head, so one CompareBlock covers all of them.
	messageBlock := clock.CurrentBlock - clock.CurrentBlock%interval
	for _, id := range identifiers {
		if ctx.Err() != nil {
			return nil
		}
		a.produce(ctx, id, network, messageBlock, clock)
	}
	return nil
}

// compareNetwork aggregates the buffered messages and compares every
// deployment of network at the block that was produced WaitBlocks ago.
func (a *POIChecker) compareNetwork(
	ctx context.Context,
	network string,
	identifiers []string,
	clock *domain.BlockClock,
) error {
	target := clock.CompareBlock - a.cfg.WaitBlocks
	logger.Debug("Comparing attestations for network %s on block %d", network, target)

	remote, err := a.Aggregator.Aggregate(ctx, a.Buffer.Snapshot())
	if err != nil {
		logger.Error("An error occurred while processing messages: %v", err)
		metrics.ExternalErrors.WithLabelValues("aggregate").Inc()
		return nil
	}

	diverged := 0
	for _, result := range CompareAll(target, identifiers, remote, a.Local) {
		metrics.Comparisons.WithLabelValues(result.Outcome.String()).Inc()
		switch result.Outcome {
		case domain.OutcomeMatch:
			logger.Info("✅ %s", result)
		case domain.OutcomeDiverged:
			diverged++
			logger.Error("❌ %s", result)
		default:
			logger.Debug("%s", result)
		}
	}

	// Claims on this network at or below target are settled, including those
	// for deployments we do not index; drop them so a later pass cannot count
	// them again.
	tracked := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		tracked[id] = struct{}{}
	}
	pruned := a.Buffer.Prune(func(msg domain.RemoteMessage) bool {
		_, ok := tracked[msg.Identifier]
		return (ok || msg.Network == network) && msg.BlockNumber <= target
	})
	metrics.BufferedMessages.Set(float64(a.Buffer.Len()))
	logger.Debug("Pruned %d settled messages for network %s", pruned, network)

	clock.CompareBlock = 0

	if diverged > 0 && a.cfg.PanicIfPOIDiverged {
		return fmt.Errorf("%w: %d deployment(s) on %s at block %d", ErrPOIDiverged, diverged, network, target)
	}
	return nil
}

// produce computes, records and publishes our claim for identifier at
// messageBlock, unless it was already produced.
func (a *POIChecker) produce(
	ctx context.Context,
	identifier string,
	network string,
	messageBlock uint64,
	clock *domain.BlockClock,
) {
	if a.Local.Has(identifier, messageBlock) {
		logger.Debug("Claim for %s on block %d already produced", identifier, messageBlock)
		return
	}

	if ctx.Err() != nil {
		return
	}
	blockHash, err := a.BlockHashes.GetCanonicalBlockHash(ctx, network, messageBlock)
	if err != nil {
		logger.Error("Failed to query the block hash of %s block %d: %v", network, messageBlock, err)
		metrics.ExternalErrors.WithLabelValues("block_hash").Inc()
		return
	}

	if ctx.Err() != nil {
		return
	}
	content, err := a.POIs.GetWorkItemValue(ctx, identifier, blockHash, messageBlock)
	if err != nil {
		logger.Error("Failed to query POI for %s on block %d: %v", identifier, messageBlock, err)
		metrics.ExternalErrors.WithLabelValues("poi").Inc()
		return
	}

	a.Local.Record(identifier, messageBlock, content, a.cfg.OwnStake)
	clock.CompareBlock = messageBlock + a.cfg.WaitBlocks

	if ctx.Err() != nil {
		return
	}
	logger.Info("Attempting to send message for %s on %s block %d", identifier, network, messageBlock)
	id, err := a.Publisher.Publish(ctx, identifier, network, messageBlock, content)
	if err != nil {
		logger.Error("Failed to send message: %v", err)
		metrics.ExternalErrors.WithLabelValues("publish").Inc()
		return
	}
	metrics.ClaimsPublished.WithLabelValues(network).Inc()
	logger.Info("Sent message id: %s", id)
}
