package transport

import (
	"sync"

	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

// pendingQueue is a bounded FIFO of frames queued for a track that is not
// yet live (spec §4.3 "Publish ... if the underlying track is not yet
// live, the frame is queued (bounded; overflow drops oldest with a
// warning)"). Grounded on pkg/agent/core/message/order.Manager's
// per-session mutex-guarded bookkeeping shape, repurposed here from
// sequence validation to queue storage.
type pendingQueue struct {
	mu       sync.Mutex
	capacity int
	frames   [][]byte
	track    string
	log      logger.Logger
}

func newPendingQueue(track string, capacity int, log logger.Logger) *pendingQueue {
	return &pendingQueue{capacity: capacity, track: track, log: log}
}

// push appends a frame, dropping the oldest queued one if at capacity.
func (q *pendingQueue) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) >= q.capacity {
		q.frames = q.frames[1:]
		metrics.FramesDropped.WithLabelValues("queue_overflow").Inc()
		q.log.Warn("pending publish queue overflow, dropping oldest frame", logger.String("track", q.track))
	}
	q.frames = append(q.frames, frame)
}

// drain removes and returns every queued frame in arrival order.
func (q *pendingQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.frames
	q.frames = nil
	return out
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
