package services

import (
	"sync"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// MessageBuffer is the ingestion buffer between the transport and the
// scheduler. Transport goroutines only Append; the scheduler snapshots and
// prunes it. Every operation holds the lock only for an in-memory copy.
type MessageBuffer struct {
	mu       sync.Mutex
	messages []domain.RemoteMessage
}

func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{}
}

func (b *MessageBuffer) Append(msg domain.RemoteMessage) {
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.mu.Unlock()
}

// Snapshot returns a copy of the buffered messages in arrival order.
func (b *MessageBuffer) Snapshot() []domain.RemoteMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.RemoteMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *MessageBuffer) Clear() {
	b.mu.Lock()
	b.messages = nil
	b.mu.Unlock()
}

// Prune drops every message for which drop returns true and reports how many
// were removed.
func (b *MessageBuffer) Prune(drop func(domain.RemoteMessage) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.messages[:0]
	for _, msg := range b.messages {
		if !drop(msg) {
			kept = append(kept, msg)
		}
	}
	removed := len(b.messages) - len(kept)
	clear(b.messages[len(kept):])
	b.messages = kept
	return removed
}

func (b *MessageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
