// Package transport carries opaque byte frames between group members over
// MoQ, content-blind (spec §4.3). It defines the Bridge abstraction the
// controller drives; transport/moq.go supplies the QUIC/WebTransport-backed
// implementation, transport/mock.go an in-memory test double.
package transport

import "context"

// Frame is delivered to the controller in arrival order on a single
// track; cross-track ordering is not guaranteed (spec §4.3 "Ordering").
type Frame struct {
	Track   string
	Payload []byte
}

// Bridge is the transport layer abstraction the controller drives.
// Grounded on pkg/agent/transport.MessageTransport's protocol-independence
// goal, generalized here from a request/response RPC surface to a
// publish/subscribe one: MoQ tracks have no per-frame response, and a
// single bridge instance owns many concurrent publish/subscribe tracks
// rather than one request channel.
type Bridge interface {
	// Publish appends a frame to the local publish track at path. If the
	// track is not yet live, the frame is queued (bounded, oldest-drop).
	Publish(ctx context.Context, path string, frame []byte) error

	// SubscribePeer idempotently opens a subscription to a member's
	// control track and delivers frames to out in arrival order.
	SubscribePeer(ctx context.Context, pubKeyHex string, out chan<- Frame) error

	// SubscribePeerAudio is the audio-track equivalent of SubscribePeer.
	SubscribePeerAudio(ctx context.Context, pubKeyHex, trackLabel string, out chan<- Frame) error

	// Ready reports whether the publish track has been accepted by the
	// relay, or the short grace timer has expired (spec §4.3
	// "Readiness") — whichever comes first.
	Ready() <-chan struct{}

	// Close closes the connection and stops all subscriptions. Frames still
	// queued for a track that never opened are discarded, not flushed.
	Close() error
}

// WrapperPath is the control (text) track path for a member: <G>/wrappers/<pubkey>.
func WrapperPath(groupRoot, pubKeyHex string) string {
	return groupRoot + "/wrappers/" + pubKeyHex
}

// AudioPath is the audio track path for a member's named track:
// <G>/audio/<pubkey>/<trackLabel>.
func AudioPath(groupRoot, pubKeyHex, trackLabel string) string {
	return groupRoot + "/audio/" + pubKeyHex + "/" + trackLabel
}
