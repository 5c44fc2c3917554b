package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// testNow is the wall clock seen by checkers under test and the nonce of test
// messages.
var testNow = time.Unix(1_700_000_000, 0)

func addr(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

type fakeStakes struct {
	mu     sync.Mutex
	stakes map[string]uint64
	err    error
	calls  map[string]int
}

func newFakeStakes(stakes map[string]uint64) *fakeStakes {
	return &fakeStakes{stakes: stakes, calls: make(map[string]int)}
}

func (f *fakeStakes) GetStake(_ context.Context, address string) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if f.err != nil {
		return nil, f.err
	}
	return uint256.NewInt(f.stakes[address]), nil
}

type fakeChainHeads struct {
	heads map[string]domain.SubgraphStatus
	err   error
}

func (f *fakeChainHeads) GetChainHeadBlocks(context.Context) (map[string]domain.SubgraphStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.heads, nil
}

func (f *fakeChainHeads) set(identifier, network string, number uint64) {
	if f.heads == nil {
		f.heads = make(map[string]domain.SubgraphStatus)
	}
	f.heads[identifier] = domain.SubgraphStatus{
		Network: network,
		Block:   domain.BlockPointer{Hash: fmt.Sprintf("0xhead%d", number), Number: number},
	}
}

type fakeBlockHashes struct {
	err   error
	calls int
}

func (f *fakeBlockHashes) GetCanonicalBlockHash(_ context.Context, network string, number uint64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("0x%s%d", network, number), nil
}

type fakePOIs struct {
	values map[string]string
	err    error
}

func (f *fakePOIs) GetWorkItemValue(_ context.Context, identifier, _ string, _ uint64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.values[identifier]; ok {
		return v, nil
	}
	return "0xpoi", nil
}

type publishedClaim struct {
	Identifier string
	Network    string
	Block      uint64
	Value      string
}

type fakePublisher struct {
	published []publishedClaim
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, identifier, network string, number uint64, value string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, publishedClaim{identifier, network, number, value})
	return fmt.Sprintf("msg-%d", len(f.published)), nil
}

func message(sender int, identifier string, block uint64, value string) domain.RemoteMessage {
	return domain.RemoteMessage{
		Sender:      addr(sender),
		Identifier:  identifier,
		Network:     "mainnet",
		BlockNumber: block,
		Value:       value,
		Nonce:       testNow.Unix(),
	}
}
