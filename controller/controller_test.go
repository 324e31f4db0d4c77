package controller

import (
	"context"
	"testing"
	"time"

	"github.com/marmot-chat/marmot/identity"
	"github.com/marmot-chat/marmot/internal/config"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/media"
	"github.com/marmot-chat/marmot/session"
	"github.com/marmot-chat/marmot/transport"
)

// testSecret returns a distinct 32-byte secret per call so each
// newTestMember derives a distinct identity key.
func testSecret(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

type testMember struct {
	handle *identity.Handle
}

func newTestMember(t *testing.T, b byte) *testMember {
	t.Helper()
	h, err := identity.NewHandle(testSecret(b), logger.NewDefaultLogger())
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return &testMember{handle: h}
}

// newTwoPartyGroup forms a group between a host and a peer entirely
// in-process (bypassing the relay bootstrap handshake), mirroring how
// CreateGroup/AcceptWelcome are actually wired together.
func newTwoPartyGroup(t *testing.T) (host, peer *testMember, groupID string) {
	t.Helper()
	host = newTestMember(t, 0x01)
	peer = newTestMember(t, 0x02)

	kp, err := peer.handle.CreateKeyPackage("")
	if err != nil {
		t.Fatalf("peer CreateKeyPackage: %v", err)
	}
	gid, welcomes, err := host.handle.CreateGroup(identity.GroupConfig{}, []identity.KeyPackage{kp})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if len(welcomes) != 1 {
		t.Fatalf("expected 1 welcome, got %d", len(welcomes))
	}
	peerGroupID, err := peer.handle.AcceptWelcome(welcomes[0])
	if err != nil {
		t.Fatalf("peer AcceptWelcome: %v", err)
	}
	if peerGroupID != gid {
		t.Fatalf("group id mismatch: host=%s peer=%s", gid, peerGroupID)
	}
	return host, peer, gid
}

// newTestController builds a Controller with its network-facing pieces
// (relay client, real transport dial) left untouched, wiring only the
// pieces the handlers under test actually exercise. Tests in this
// package can reach into unexported fields directly.
func newTestController(t *testing.T, m *testMember, groupID string, role session.Role, bridge transport.Bridge) *Controller {
	t.Helper()
	cfg := &config.Config{
		Role:          string(role),
		SignallingURL: "ws://unused.invalid",
		MoQURL:        "https://unused.invalid",
		GroupID:       groupID,
	}
	sess := session.New(cfg, "test-channel", testSecret(0xff))
	sess.SetGroupID(groupID)

	c := &Controller{
		cfg:           cfg,
		handle:        m.handle,
		sess:          sess,
		log:           logger.NewDefaultLogger(),
		mediaCache:    media.NewCache(),
		ops:           make(chan operation, opQueueCapacity),
		events:        make(chan Event, opQueueCapacity),
		frames:        make(chan transport.Frame, frameQueueCapacity),
		pending:       newPendingFrameQueue(logger.NewDefaultLogger()),
		subscriptions: make(map[string]struct{}),
		knownMembers:  make(map[string]struct{}),
		bridge:        bridge,
		startedAt:     time.Now(),
	}
	return c
}

func drainEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSendMessageEmitsLocalEventAndPublishes(t *testing.T) {
	host, _, groupID := newTwoPartyGroup(t)
	bridge := transport.NewMockBridge()
	c := newTestController(t, host, groupID, session.RoleCreator, bridge)

	c.handleSendMessage(context.Background(), "hello group")

	ev := drainEvent(t, c)
	msg, ok := ev.Message()
	if !ok {
		t.Fatalf("expected EventMessage, got kind %v", ev.Kind())
	}
	if !msg.Local {
		t.Fatal("expected Local=true for self-sent message")
	}
	if string(msg.Content) != "hello group" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}

	if bridge.LastPublished() == nil {
		t.Fatal("expected a frame to have been published")
	}
}

func TestIngestFrameDeliversRemoteMessage(t *testing.T) {
	host, peer, groupID := newTwoPartyGroup(t)
	c := newTestController(t, host, groupID, session.RoleCreator, transport.NewMockBridge())

	wrapper, err := peer.handle.CreateMessage(groupID, []byte("hi from peer"))
	if err != nil {
		t.Fatalf("peer CreateMessage: %v", err)
	}

	c.handleIngestFrame(context.Background(), wrapper)

	ev := drainEvent(t, c)
	msg, ok := ev.Message()
	if !ok {
		t.Fatalf("expected EventMessage, got kind %v", ev.Kind())
	}
	if msg.Local {
		t.Fatal("expected Local=false for a remote message")
	}
	if string(msg.Content) != "hi from peer" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
}

func TestRotateEpochMergesLocallyAndPublishes(t *testing.T) {
	host, _, groupID := newTwoPartyGroup(t)
	bridge := transport.NewMockBridge()
	c := newTestController(t, host, groupID, session.RoleCreator, bridge)

	before, err := host.handle.CurrentEpoch(groupID)
	if err != nil {
		t.Fatalf("CurrentEpoch: %v", err)
	}

	c.handleRotateEpoch(context.Background())

	// handleRotateEpoch merges self-originated commits directly rather
	// than waiting for an echo, so the epoch should already have
	// advanced by the time the call returns.
	after, err := host.handle.CurrentEpoch(groupID)
	if err != nil {
		t.Fatalf("CurrentEpoch: %v", err)
	}
	if after <= before {
		t.Fatalf("expected epoch to advance past %d, got %d", before, after)
	}
	if bridge.LastPublished() == nil {
		t.Fatal("expected the rotate-epoch commit wrapper to have been published")
	}

	// Drain the commit and roster events this produces.
	ev := drainEvent(t, c)
	if _, ok := ev.Commit(); !ok {
		t.Fatalf("expected EventCommit first, got kind %v", ev.Kind())
	}
}

func TestPendingFrameRequeuedUntilCommitMerges(t *testing.T) {
	host, peer, groupID := newTwoPartyGroup(t)
	c := newTestController(t, host, groupID, session.RoleCreator, transport.NewMockBridge())

	// Advance the peer's own epoch view so its next message is encrypted
	// under an epoch the host hasn't merged yet, producing a transient
	// Unprocessable outcome the first time the host tries to ingest it.
	selfUpdateWrapper, err := peer.handle.SelfUpdate(groupID)
	if err != nil {
		t.Fatalf("peer SelfUpdate: %v", err)
	}
	if _, err := peer.handle.MergePendingCommit(groupID); err != nil {
		t.Fatalf("peer MergePendingCommit: %v", err)
	}
	laterWrapper, err := peer.handle.CreateMessage(groupID, []byte("after rotation"))
	if err != nil {
		t.Fatalf("peer CreateMessage: %v", err)
	}

	// Host hasn't ingested the commit yet: this message should queue as
	// a transient failure rather than surface an error.
	c.handleIngestFrame(context.Background(), laterWrapper)
	if c.pending.len() != 1 {
		t.Fatalf("expected 1 pending frame, got %d", c.pending.len())
	}

	// Now the host ingests the commit, which should trigger a replay of
	// the queued frame and finally deliver it.
	c.handleIngestFrame(context.Background(), selfUpdateWrapper)

	var sawMessage bool
	for i := 0; i < 4; i++ {
		ev := drainEvent(t, c)
		if msg, ok := ev.Message(); ok && string(msg.Content) == "after rotation" {
			sawMessage = true
			break
		}
	}
	if !sawMessage {
		t.Fatal("expected the queued frame to be delivered after the commit merged")
	}
	if c.pending.len() != 0 {
		t.Fatalf("expected pending queue to be drained, got %d", c.pending.len())
	}
}

func TestEncryptDecryptAudioFrameRoundTrip(t *testing.T) {
	host, peer, groupID := newTwoPartyGroup(t)
	hostCtl := newTestController(t, host, groupID, session.RoleCreator, transport.NewMockBridge())
	peerCtl := newTestController(t, peer, groupID, session.RoleInvitee, transport.NewMockBridge())

	wire, err := hostCtl.EncryptAudioFrame("audio-0", 1, []byte("opus-frame-payload"), 1, 1, true)
	if err != nil {
		t.Fatalf("EncryptAudioFrame: %v", err)
	}

	plaintext, err := peerCtl.DecryptAudioFrame(host.handle.PubKeyHex(), "audio-0", wire, 1, 1, true)
	if err != nil {
		t.Fatalf("DecryptAudioFrame: %v", err)
	}
	if string(plaintext) != "opus-frame-payload" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestDecryptAudioFrameFallsBackOneEpoch(t *testing.T) {
	host, peer, groupID := newTwoPartyGroup(t)
	hostCtl := newTestController(t, host, groupID, session.RoleCreator, transport.NewMockBridge())
	peerCtl := newTestController(t, peer, groupID, session.RoleInvitee, transport.NewMockBridge())

	// Host encrypts a frame just before rotating.
	wire, err := hostCtl.EncryptAudioFrame("audio-0", 1, []byte("late-frame"), 2, 2, false)
	if err != nil {
		t.Fatalf("EncryptAudioFrame: %v", err)
	}

	// Host rotates and merges locally, then the peer ingests and merges
	// the same commit, so by the time DecryptAudioFrame runs the peer's
	// current epoch is already one ahead of the epoch the frame above
	// was actually encrypted under.
	wrapper, err := host.handle.SelfUpdate(groupID)
	if err != nil {
		t.Fatalf("host SelfUpdate: %v", err)
	}
	if _, err := host.handle.MergePendingCommit(groupID); err != nil {
		t.Fatalf("host MergePendingCommit: %v", err)
	}
	if _, err := peer.handle.IngestWrapper(wrapper); err != nil {
		t.Fatalf("peer IngestWrapper: %v", err)
	}
	if _, err := peer.handle.MergePendingCommit(groupID); err != nil {
		t.Fatalf("peer MergePendingCommit: %v", err)
	}

	plaintext, err := peerCtl.DecryptAudioFrame(host.handle.PubKeyHex(), "audio-0", wire, 2, 2, false)
	if err != nil {
		t.Fatalf("DecryptAudioFrame (one-epoch-stale frame): %v", err)
	}
	if string(plaintext) != "late-frame" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}
