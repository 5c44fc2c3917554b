package services

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Marketen/poi-radio/internal/application/domain"
	"github.com/Marketen/poi-radio/internal/logger"
	"github.com/Marketen/poi-radio/internal/metrics"
)

// Ingestor is the inbound bridge from the transport layer. It filters
// messages we must not count and appends the rest to the buffer.
type Ingestor struct {
	buffer      *MessageBuffer
	selfAddress string

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewIngestor builds an Ingestor. Messages signed by selfAddress are ignored;
// when topics is non-empty only those identifiers are accepted.
func NewIngestor(buffer *MessageBuffer, selfAddress string, topics []string) *Ingestor {
	in := &Ingestor{
		buffer:      buffer,
		selfAddress: normalizeAddress(selfAddress),
	}
	in.SetTopics(topics)
	return in
}

// SetTopics replaces the identifiers accepted from peers.
func (in *Ingestor) SetTopics(topics []string) {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	in.mu.Lock()
	in.topics = set
	in.mu.Unlock()
}

// Deliver implements ports.MessageSink.
func (in *Ingestor) Deliver(msg domain.RemoteMessage) {
	if !common.IsHexAddress(msg.Sender) {
		logger.Error("Dropping message for %s: invalid sender %q", msg.Identifier, msg.Sender)
		metrics.MessagesDropped.WithLabelValues("invalid_sender").Inc()
		return
	}
	msg.Sender = normalizeAddress(msg.Sender)

	if in.selfAddress != "" && msg.Sender == in.selfAddress {
		logger.Debug("Skipping our own message for %s on block %d", msg.Identifier, msg.BlockNumber)
		metrics.MessagesDropped.WithLabelValues("self").Inc()
		return
	}

	if !in.tracks(msg.Identifier) {
		logger.Debug("Skipping message for untracked identifier %s", msg.Identifier)
		metrics.MessagesDropped.WithLabelValues("topic").Inc()
		return
	}

	in.buffer.Append(msg)
	metrics.MessagesIngested.Inc()
}

func (in *Ingestor) tracks(identifier string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if len(in.topics) == 0 {
		return true
	}
	_, ok := in.topics[identifier]
	return ok
}

// normalizeAddress returns the lowercase 0x-prefixed form of address.
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return strings.ToLower(address)
}
