package transport

import (
	"context"
	"sync"
)

// MockBridge is an in-memory Bridge test double. Grounded on
// pkg/agent/transport/mock.go's capture-and-override shape: a PublishFunc
// override for custom test behavior, plus captured Published frames for
// assertions, generalized here from request/response capture to
// publish/subscribe capture (published frames + registered subscriptions).
type MockBridge struct {
	// PublishFunc overrides Publish when set; if nil, frames are only
	// captured and the call always succeeds.
	PublishFunc func(ctx context.Context, path string, frame []byte) error

	// Published records every frame handed to Publish, in call order.
	Published []Frame

	readyCh chan struct{}

	mu            sync.Mutex
	subscriptions map[string]chan<- Frame
}

// NewMockBridge returns a MockBridge that is immediately Ready.
func NewMockBridge() *MockBridge {
	ch := make(chan struct{})
	close(ch)
	return &MockBridge{
		readyCh:       ch,
		subscriptions: make(map[string]chan<- Frame),
	}
}

// Publish implements Bridge.
func (m *MockBridge) Publish(ctx context.Context, path string, frame []byte) error {
	m.mu.Lock()
	m.Published = append(m.Published, Frame{Track: path, Payload: frame})
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, path, frame)
	}
	return nil
}

// SubscribePeer implements Bridge.
func (m *MockBridge) SubscribePeer(ctx context.Context, pubKeyHex string, out chan<- Frame) error {
	return m.subscribe(WrapperPath("", pubKeyHex), out)
}

// SubscribePeerAudio implements Bridge.
func (m *MockBridge) SubscribePeerAudio(ctx context.Context, pubKeyHex, trackLabel string, out chan<- Frame) error {
	return m.subscribe(AudioPath("", pubKeyHex, trackLabel), out)
}

func (m *MockBridge) subscribe(path string, out chan<- Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[path] = out
	return nil
}

// Deliver simulates an inbound frame arriving on path, routed to whichever
// test code subscribed to it. It is a no-op if nothing is subscribed.
func (m *MockBridge) Deliver(path string, payload []byte) {
	m.mu.Lock()
	out, ok := m.subscriptions[path]
	m.mu.Unlock()
	if !ok {
		return
	}
	out <- Frame{Track: path, Payload: payload}
}

// Ready implements Bridge.
func (m *MockBridge) Ready() <-chan struct{} { return m.readyCh }

// Close implements Bridge.
func (m *MockBridge) Close() error { return nil }

// LastPublished returns the most recently published frame, or nil if none.
func (m *MockBridge) LastPublished() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Published) == 0 {
		return nil
	}
	f := m.Published[len(m.Published)-1]
	return &f
}

var _ Bridge = (*MockBridge)(nil)
