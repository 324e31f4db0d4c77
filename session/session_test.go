package session

import (
	"testing"

	"github.com/marmot-chat/marmot/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Role:          config.RoleCreate,
		SignallingURL: "wss://relay.example/ws",
		MoQURL:        "https://moq.example",
		SessionID:     "session-1",
		Secret:        "deadbeef",
		AdminPubkeys:  []string{"02aa"},
		PeerPubkeys:   []string{"02bb"},
	}
}

func TestNewSessionSeedsAdminsAndPeers(t *testing.T) {
	s := New(testConfig(), "channel-123", []byte{1, 2, 3})

	if s.Role() != RoleCreator {
		t.Fatalf("got role %q, want %q", s.Role(), RoleCreator)
	}
	if !s.IsAdmin("02aa") {
		t.Fatal("expected 02aa to be seeded as admin")
	}
	if s.IsAdmin("02bb") {
		t.Fatal("02bb should not be an admin")
	}
	peers := s.Peers()
	if len(peers) != 1 || peers[0] != "02bb" {
		t.Fatalf("unexpected peers: %v", peers)
	}
}

func TestSetGroupIDIdempotent(t *testing.T) {
	s := New(testConfig(), "channel-123", nil)
	if s.GroupID() != "" {
		t.Fatalf("expected empty group id before handshake, got %q", s.GroupID())
	}
	s.SetGroupID("group-1")
	s.SetGroupID("group-1")
	if s.GroupID() != "group-1" {
		t.Fatalf("got %q, want group-1", s.GroupID())
	}
}

func TestSyncRosterReplacesAdminsAndPeers(t *testing.T) {
	s := New(testConfig(), "channel-123", nil)

	s.SyncRoster([]RosterMember{
		{PubKey: "02aa", IsAdmin: true},
		{PubKey: "02cc", IsAdmin: false},
	})

	if !s.IsAdmin("02aa") {
		t.Fatal("expected 02aa to remain admin after sync")
	}
	if s.IsAdmin("02bb") {
		t.Fatal("expected stale peer 02bb to be dropped after sync")
	}
	peers := s.Peers()
	if len(peers) != 1 || peers[0] != "02cc" {
		t.Fatalf("unexpected peers after sync: %v", peers)
	}
}
