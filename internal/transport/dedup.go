package transport

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const defaultDedupTTL = 10 * time.Minute

// MessageID is the blake3 hex digest of an encoded envelope.
func MessageID(frame []byte) string {
	sum := blake3.Sum256(frame)
	return hex.EncodeToString(sum[:])
}

// dedup remembers recently seen frames so relayed copies are handled once.
type dedup struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &dedup{seen: make(map[[32]byte]time.Time), ttl: ttl, now: time.Now}
}

// check records frame and reports whether it was not seen within the TTL.
func (d *dedup) check(frame []byte) bool {
	hash := blake3.Sum256(frame)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[hash]; ok && now.Sub(ts) < d.ttl {
		return false
	}
	d.seen[hash] = now
	return true
}

// expire drops entries older than the TTL.
func (d *dedup) expire() {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, hash)
		}
	}
}

func (d *dedup) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
