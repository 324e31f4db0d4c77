package transport

import (
	"context"
	"errors"
	"testing"
)

func TestMockBridgePublishCapturesFrame(t *testing.T) {
	m := NewMockBridge()

	if err := m.Publish(context.Background(), "marmot/g/wrappers/alice", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	last := m.LastPublished()
	if last == nil {
		t.Fatal("expected a captured frame")
	}
	if last.Track != "marmot/g/wrappers/alice" || string(last.Payload) != "hello" {
		t.Fatalf("unexpected captured frame: %+v", last)
	}
}

func TestMockBridgePublishFuncOverride(t *testing.T) {
	m := NewMockBridge()
	wantErr := errors.New("boom")
	m.PublishFunc = func(ctx context.Context, path string, frame []byte) error {
		return wantErr
	}

	err := m.Publish(context.Background(), "marmot/g/wrappers/alice", []byte("x"))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected override error, got %v", err)
	}
	if len(m.Published) != 1 {
		t.Fatalf("expected capture to still occur, got %d", len(m.Published))
	}
}

func TestMockBridgeSubscribeAndDeliver(t *testing.T) {
	m := NewMockBridge()
	out := make(chan Frame, 1)

	if err := m.SubscribePeer(context.Background(), "alice", out); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m.Deliver(WrapperPath("", "alice"), []byte("frame"))

	select {
	case f := <-out:
		if string(f.Payload) != "frame" {
			t.Fatalf("unexpected payload: %s", f.Payload)
		}
	default:
		t.Fatal("expected delivered frame")
	}
}

func TestMockBridgeReadyClosed(t *testing.T) {
	m := NewMockBridge()
	select {
	case <-m.Ready():
	default:
		t.Fatal("expected Ready() to already be closed")
	}
}
