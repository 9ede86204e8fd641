package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/user/clawgate/internal/types"
)

const (
	dedupeTTL        = 20 * time.Minute
	dedupeMaxEntries = 5000
)

// dedupeCache drops redelivered inbound messages. Transports re-send on
// reconnect; the cache remembers recently seen message identities.
type dedupeCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{seen: make(map[string]time.Time), now: time.Now}
}

// Seen records the event and reports whether it was already present. Events
// without a message ID are never treated as duplicates.
func (d *dedupeCache) Seen(evt *types.InboundEvent) bool {
	if evt.MessageID == "" {
		return false
	}
	key := strings.Join([]string{evt.Surface, evt.From, evt.GroupID, evt.MessageID}, "|")

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < dedupeTTL {
		return true
	}
	if len(d.seen) >= dedupeMaxEntries {
		d.prune(now)
	}
	d.seen[key] = now
	return false
}

func (d *dedupeCache) prune(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) >= dedupeTTL {
			delete(d.seen, k)
		}
	}
	// Still full of fresh entries: drop the oldest half.
	if len(d.seen) >= dedupeMaxEntries {
		cutoff := now.Add(-dedupeTTL / 2)
		for k, at := range d.seen {
			if at.Before(cutoff) {
				delete(d.seen, k)
			}
		}
	}
}
