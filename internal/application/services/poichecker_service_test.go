package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

type checkerFixture struct {
	heads     *fakeChainHeads
	hashes    *fakeBlockHashes
	pois      *fakePOIs
	publisher *fakePublisher
	stakes    *fakeStakes
	buffer    *MessageBuffer
	local     *LocalStore
	checker   *POIChecker
}

func newCheckerFixture(cfg POICheckerConfig) *checkerFixture {
	f := &checkerFixture{
		heads:     &fakeChainHeads{},
		hashes:    &fakeBlockHashes{},
		pois:      &fakePOIs{values: map[string]string{}},
		publisher: &fakePublisher{},
		stakes:    newFakeStakes(map[string]uint64{}),
		buffer:    NewMessageBuffer(),
		local:     NewLocalStore(),
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.WaitBlocks == 0 {
		cfg.WaitBlocks = DefaultWaitBlocks
	}
	if cfg.Networks == nil {
		cfg.Networks = domain.NetworkRegistry{"mainnet": 5, "goerli": 2}
	}
	f.checker = NewPOIChecker(f.heads, f.hashes, f.pois, f.publisher,
		NewAggregator(f.stakes), f.buffer, f.local, cfg)
	f.checker.now = func() time.Time { return testNow }
	return f
}

func TestTickProducesClaimAtIntervalBoundary(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{OwnStake: uint256.NewInt(42)})
	f.heads.set("Qm1", "mainnet", 107)
	f.pois.values["Qm1"] = "0xABC"

	require.NoError(t, f.checker.Tick(context.Background()))

	att, ok := f.local.Get("Qm1", 105)
	require.True(t, ok)
	assert.Equal(t, "0xABC", att.Value)
	assert.Equal(t, uint64(42), att.StakeWeight.Uint64())

	clock, ok := f.checker.Clock("mainnet")
	require.True(t, ok)
	assert.Equal(t, uint64(107), clock.CurrentBlock)
	assert.Equal(t, uint64(105+DefaultWaitBlocks), clock.CompareBlock)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, publishedClaim{"Qm1", "mainnet", 105, "0xABC"}, f.publisher.published[0])
}

func TestTickIdleWhenClaimAlreadyProduced(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 106)

	require.NoError(t, f.checker.Tick(context.Background()))
	f.heads.set("Qm1", "mainnet", 106)
	require.NoError(t, f.checker.Tick(context.Background()))

	assert.Len(t, f.publisher.published, 1)
	assert.Equal(t, 1, f.hashes.calls)
}

func TestTickComparesAfterWaitWindow(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{PanicIfPOIDiverged: true})
	f.heads.set("Qm1", "mainnet", 105)
	f.pois.values["Qm1"] = "0xgood"

	require.NoError(t, f.checker.Tick(context.Background()))
	clock, _ := f.checker.Clock("mainnet")
	require.Equal(t, uint64(107), clock.CompareBlock)

	// Divergent evidence arrives, but the window has not elapsed yet.
	f.stakes.stakes[addr(1)] = 100
	f.buffer.Append(message(1, "Qm1", 105, "0xbad"))
	f.heads.set("Qm1", "mainnet", 106)
	require.NoError(t, f.checker.Tick(context.Background()))
	assert.Equal(t, 1, f.buffer.Len())

	f.heads.set("Qm1", "mainnet", 107)
	err := f.checker.Tick(context.Background())
	require.ErrorIs(t, err, ErrPOIDiverged)
}

func TestTickMatchClearsSettledMessages(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{PanicIfPOIDiverged: true})
	f.heads.set("Qm1", "mainnet", 105)
	f.pois.values["Qm1"] = "0xgood"
	require.NoError(t, f.checker.Tick(context.Background()))

	f.stakes.stakes[addr(1)] = 1
	f.buffer.Append(message(1, "Qm1", 105, "0xgood"))
	f.buffer.Append(message(1, "Qm1", 110, "0xnext"))

	f.heads.set("Qm1", "mainnet", 108)
	require.NoError(t, f.checker.Tick(context.Background()))

	clock, _ := f.checker.Clock("mainnet")
	assert.Equal(t, uint64(0), clock.CompareBlock)
	got := f.buffer.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(110), got[0].BlockNumber)
}

func TestTickPruneKeepsOtherNetworks(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)
	f.heads.set("Qm2", "goerli", 50)
	require.NoError(t, f.checker.Tick(context.Background()))

	f.buffer.Append(message(1, "Qm1", 105, "0xpoi"))
	f.buffer.Append(message(1, "Qm2", 50, "0xpoi"))

	// Only mainnet reaches its compare block.
	f.heads.set("Qm1", "mainnet", 107)
	f.heads.set("Qm2", "goerli", 51)
	require.NoError(t, f.checker.Tick(context.Background()))

	got := f.buffer.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "Qm2", got[0].Identifier)
}

func TestTickSharesMessageBlockAcrossNetwork(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{PanicIfPOIDiverged: true})
	// The two deployments sit on different sides of an interval boundary.
	f.heads.set("Qm1", "mainnet", 105)
	f.heads.set("Qm2", "mainnet", 104)
	f.pois.values["Qm1"] = "0xgood"

	require.NoError(t, f.checker.Tick(context.Background()))

	assert.True(t, f.local.Has("Qm1", 105))
	assert.True(t, f.local.Has("Qm2", 105))
	assert.False(t, f.local.Has("Qm2", 100))
	clock, _ := f.checker.Clock("mainnet")
	assert.Equal(t, uint64(107), clock.CompareBlock)

	f.stakes.stakes[addr(1)] = 100
	f.buffer.Append(message(1, "Qm1", 105, "0xbad"))

	f.heads.set("Qm1", "mainnet", 107)
	f.heads.set("Qm2", "mainnet", 106)
	err := f.checker.Tick(context.Background())
	require.ErrorIs(t, err, ErrPOIDiverged)
}

func TestTickPrunesUntrackedDeploymentsOnNetwork(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)
	require.NoError(t, f.checker.Tick(context.Background()))

	f.buffer.Append(message(1, "QmOther", 105, "0xpoi"))
	f.buffer.Append(message(1, "QmOther", 110, "0xpoi"))

	f.heads.set("Qm1", "mainnet", 107)
	require.NoError(t, f.checker.Tick(context.Background()))

	got := f.buffer.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(110), got[0].BlockNumber)
}

func TestTickExpiresOldMessages(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{MessageMaxAge: time.Minute})
	f.heads.set("Qm1", "mainnet", 105)

	f.buffer.Append(message(1, "Qm1", 1<<62, "0xfuture"))
	f.buffer.Append(message(1, "QmOther", 105, "0xpoi"))
	unknown := message(2, "QmElse", 7, "0xpoi")
	unknown.Network = "unknown-chain"
	f.buffer.Append(unknown)

	require.NoError(t, f.checker.Tick(context.Background()))
	assert.Equal(t, 3, f.buffer.Len())

	f.checker.now = func() time.Time { return testNow.Add(time.Minute + time.Second) }
	fresh := message(3, "Qm1", 110, "0xpoi")
	fresh.Nonce = testNow.Add(time.Minute).Unix()
	f.buffer.Append(fresh)

	f.heads.set("Qm1", "mainnet", 106)
	require.NoError(t, f.checker.Tick(context.Background()))

	got := f.buffer.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, addr(3), got[0].Sender)
}

func TestTickDivergedWithoutPanicContinues(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)
	f.pois.values["Qm1"] = "0xgood"
	require.NoError(t, f.checker.Tick(context.Background()))

	f.stakes.stakes[addr(1)] = 100
	f.buffer.Append(message(1, "Qm1", 105, "0xbad"))
	f.heads.set("Qm1", "mainnet", 110)
	require.NoError(t, f.checker.Tick(context.Background()))

	// The loop moved on to the next interval.
	assert.True(t, f.local.Has("Qm1", 110))
}

func TestTickAggregationFailureRetriesNextTick(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)
	require.NoError(t, f.checker.Tick(context.Background()))

	f.buffer.Append(message(1, "Qm1", 105, "0xpoi"))
	f.stakes.err = errors.New("boom")
	f.heads.set("Qm1", "mainnet", 107)
	require.NoError(t, f.checker.Tick(context.Background()))

	clock, _ := f.checker.Clock("mainnet")
	assert.Equal(t, uint64(107), clock.CompareBlock)
	assert.Equal(t, 1, f.buffer.Len())

	f.stakes.err = nil
	require.NoError(t, f.checker.Tick(context.Background()))
	clock, _ = f.checker.Clock("mainnet")
	assert.Equal(t, uint64(0), clock.CompareBlock)
	assert.Equal(t, 0, f.buffer.Len())
}

func TestTickExternalFailures(t *testing.T) {
	t.Run("chain heads", func(t *testing.T) {
		f := newCheckerFixture(POICheckerConfig{})
		f.heads.err = errors.New("graph node down")
		require.NoError(t, f.checker.Tick(context.Background()))
		assert.Empty(t, f.publisher.published)
	})

	t.Run("block hash", func(t *testing.T) {
		f := newCheckerFixture(POICheckerConfig{})
		f.heads.set("Qm1", "mainnet", 105)
		f.hashes.err = errors.New("unknown block")
		require.NoError(t, f.checker.Tick(context.Background()))
		assert.False(t, f.local.Has("Qm1", 105))

		f.hashes.err = nil
		require.NoError(t, f.checker.Tick(context.Background()))
		assert.True(t, f.local.Has("Qm1", 105))
	})

	t.Run("poi", func(t *testing.T) {
		f := newCheckerFixture(POICheckerConfig{})
		f.heads.set("Qm1", "mainnet", 105)
		f.pois.err = errors.New("not indexed")
		require.NoError(t, f.checker.Tick(context.Background()))
		assert.False(t, f.local.Has("Qm1", 105))
		assert.Empty(t, f.publisher.published)
	})

	t.Run("publish keeps local claim", func(t *testing.T) {
		f := newCheckerFixture(POICheckerConfig{})
		f.heads.set("Qm1", "mainnet", 105)
		f.publisher.err = errors.New("no peers")
		require.NoError(t, f.checker.Tick(context.Background()))
		assert.True(t, f.local.Has("Qm1", 105))
	})
}

func TestTickSkipsUnknownNetwork(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "unknown-chain", 105)
	f.heads.set("Qm2", "mainnet", 105)

	require.NoError(t, f.checker.Tick(context.Background()))

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, "Qm2", f.publisher.published[0].Identifier)
	_, ok := f.checker.Clock("unknown-chain")
	assert.False(t, ok)
}

func TestTickHonoursTopics(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{Topics: []string{"Qm2", "Qm3"}})
	f.heads.set("Qm1", "mainnet", 105)
	f.heads.set("Qm2", "mainnet", 105)

	require.NoError(t, f.checker.Tick(context.Background()))

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, "Qm2", f.publisher.published[0].Identifier)
}

func TestTickCancelledContext(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.checker.Tick(ctx))
	assert.Empty(t, f.publisher.published)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newCheckerFixture(POICheckerConfig{})
	f.heads.set("Qm1", "mainnet", 105)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.checker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
