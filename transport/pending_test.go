package transport

import (
	"testing"

	"github.com/marmot-chat/marmot/internal/logger"
)

func TestPendingQueueDrainOrder(t *testing.T) {
	q := newPendingQueue("wrappers/abc", 4, logger.GetDefaultLogger())

	q.push([]byte("one"))
	q.push([]byte("two"))
	q.push([]byte("three"))

	got := q.drain()
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if string(got[0]) != "one" || string(got[2]) != "three" {
		t.Fatalf("unexpected drain order: %v", got)
	}
	if q.len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.len())
	}
}

func TestPendingQueueOverflowDropsOldest(t *testing.T) {
	q := newPendingQueue("wrappers/abc", 2, logger.GetDefaultLogger())

	q.push([]byte("a"))
	q.push([]byte("b"))
	q.push([]byte("c")) // should evict "a"

	got := q.drain()
	if len(got) != 2 {
		t.Fatalf("expected capacity-bound 2 frames, got %d", len(got))
	}
	if string(got[0]) != "b" || string(got[1]) != "c" {
		t.Fatalf("expected oldest frame dropped, got %v", got)
	}
}
