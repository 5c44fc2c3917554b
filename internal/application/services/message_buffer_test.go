package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

func TestMessageBufferSnapshotIsCopy(t *testing.T) {
	buf := NewMessageBuffer()
	buf.Append(message(1, "Qm1", 100, "x"))

	snap := buf.Snapshot()
	buf.Append(message(2, "Qm1", 100, "x"))
	snap[0].Value = "mutated"

	require.Len(t, snap, 1)
	got := buf.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Value)
}

func TestMessageBufferPrune(t *testing.T) {
	buf := NewMessageBuffer()
	buf.Append(message(1, "Qm1", 100, "x"))
	buf.Append(message(2, "Qm2", 100, "y"))
	buf.Append(message(3, "Qm1", 105, "z"))

	removed := buf.Prune(func(m domain.RemoteMessage) bool {
		return m.Identifier == "Qm1" && m.BlockNumber <= 100
	})

	assert.Equal(t, 1, removed)
	got := buf.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "y", got[0].Value)
	assert.Equal(t, "z", got[1].Value)
}

func TestMessageBufferClear(t *testing.T) {
	buf := NewMessageBuffer()
	buf.Append(message(1, "Qm1", 100, "x"))
	buf.Clear()
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Snapshot())
}

func TestMessageBufferConcurrentAppend(t *testing.T) {
	buf := NewMessageBuffer()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf.Append(message(sender, "Qm1", uint64(j), "x"))
			}
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, 400, buf.Len())
}
