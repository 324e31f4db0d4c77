package controller

import (
	"sync"

	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

// maxPendingAttempts bounds how many commit-merge cycles a queued frame
// survives before it's dropped (spec §4.4 "frames that remain transient
// stay queued up to a bounded retry count before being dropped").
const maxPendingAttempts = 8

// pendingFrameCapacity bounds the queue itself (spec §3 "Pending Frame
// Queue... bounded FIFO").
const pendingFrameCapacity = 256

type pendingFrameItem struct {
	frame    []byte
	attempts int
}

// pendingFrameQueue is the controller's retry queue for inbound wrapper
// bytes that failed MLS ingestion with a transient error (spec §3, §4.4).
// Distinct from transport.pendingQueue (that one buffers outbound frames
// for a not-yet-live track); this one owns metrics.PendingFrameQueueDepth.
// Grounded on pkg/agent/core/message/dedupe/detector.go's TTL-map shape,
// adapted from time-based expiry to an attempt-count bound, since a
// stuck MLS wrapper keeps being worth retrying as long as epochs keep
// advancing, not for a fixed wall-clock window.
type pendingFrameQueue struct {
	mu    sync.Mutex
	items []pendingFrameItem
	log   logger.Logger
}

func newPendingFrameQueue(log logger.Logger) *pendingFrameQueue {
	return &pendingFrameQueue{log: log}
}

// push enqueues a freshly-arrived transient frame, dropping the oldest
// queued frame on overflow.
func (q *pendingFrameQueue) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= pendingFrameCapacity {
		q.items = q.items[1:]
		q.log.Warn("pending frame queue overflow, dropping oldest frame")
	}
	q.items = append(q.items, pendingFrameItem{frame: frame})
	metrics.PendingFrameQueueDepth.Set(float64(len(q.items)))
}

// drain removes and returns every queued item in arrival order, for the
// controller to re-attempt after a commit merge.
func (q *pendingFrameQueue) drain() []pendingFrameItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	metrics.PendingFrameQueueDepth.Set(0)
	return out
}

// requeue puts an item that is still transient back at the tail,
// preserving arrival order among still-pending frames, unless it has
// exhausted its retry budget.
func (q *pendingFrameQueue) requeue(item pendingFrameItem) (dropped bool) {
	item.attempts++
	if item.attempts >= maxPendingAttempts {
		q.log.Warn("dropping pending frame after exhausting retry budget",
			logger.Int("attempts", item.attempts))
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	metrics.PendingFrameQueueDepth.Set(float64(len(q.items)))
	return false
}

func (q *pendingFrameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
