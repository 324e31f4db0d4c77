package relay

import (
	"sync"
	"time"
)

// Deduper tracks seen event ids with a TTL, so a handshake envelope
// delivered more than once by a best-effort relay produces exactly one
// state transition (spec §4.2 "Idempotency", §8 invariant 6). Grounded on
// pkg/agent/core/message/dedupe.Detector's seen-map-plus-cleanup-loop
// shape, keyed here by event id directly rather than a content hash since
// relay events already carry a content-addressed id.
type Deduper struct {
	ttl             time.Duration
	mu              sync.Mutex
	seen            map[string]time.Time
	cleanupInterval time.Duration
	stop            chan struct{}
}

// NewDeduper creates a deduper and starts its background cleanup loop.
func NewDeduper(ttl, cleanupInterval time.Duration) *Deduper {
	d := &Deduper{
		ttl:             ttl,
		seen:            make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// SeenBefore reports whether eventID has already been observed within the
// TTL window, marking it seen as a side effect (check-and-mark, atomic).
func (d *Deduper) SeenBefore(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[eventID]; ok && time.Since(ts) <= d.ttl {
		return true
	}
	d.seen[eventID] = time.Now()
	return false
}

// Close stops the background cleanup loop.
func (d *Deduper) Close() {
	close(d.stop)
}

func (d *Deduper) cleanupLoop() {
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stop:
			return
		}
	}
}

func (d *Deduper) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) > d.ttl {
			delete(d.seen, id)
		}
	}
}
