// Package session holds the process-wide Session record (spec §3): the
// chosen role, the two relay endpoints, the bootstrap channel id, the
// local secret, and — once known — the group id, admin set, and peer
// set.
package session

import (
	"sync"

	"github.com/marmot-chat/marmot/internal/config"
)

// Role mirrors config.RoleCreate/config.RoleJoin as a distinct type so
// callers can't accidentally pass an arbitrary string where a role is
// expected.
type Role string

const (
	RoleCreator Role = Role(config.RoleCreate)
	RoleInvitee Role = Role(config.RoleJoin)
)

// Session is the single process-wide record described in spec §3.
// Grounded on pkg/agent/session/types.go's Config/Status split (static
// policy vs. observed state), generalized here into one mutable record
// since a marmot process runs exactly one session end to end rather
// than managing a pool of many.
type Session struct {
	mu sync.RWMutex

	role          Role
	signallingURL string
	moqURL        string
	channelID     string
	secret        []byte

	groupID string
	admins  map[string]struct{}
	peers   map[string]struct{}
}

// New builds a Session from a validated engine Config and the
// bootstrap channel id chosen for this run (spec §3 "a random 128-bit
// token used only to correlate pre-group handshake messages").
func New(cfg *config.Config, channelID string, secret []byte) *Session {
	s := &Session{
		role:          Role(cfg.Role),
		signallingURL: cfg.SignallingURL,
		moqURL:        cfg.MoQURL,
		channelID:     channelID,
		secret:        secret,
		groupID:       cfg.GroupID,
		admins:        make(map[string]struct{}, len(cfg.AdminPubkeys)),
		peers:         make(map[string]struct{}, len(cfg.PeerPubkeys)),
	}
	for _, pk := range cfg.AdminPubkeys {
		s.admins[pk] = struct{}{}
	}
	for _, pk := range cfg.PeerPubkeys {
		s.peers[pk] = struct{}{}
	}
	return s
}

func (s *Session) Role() Role { return s.role }

func (s *Session) SignallingURL() string { return s.signallingURL }

func (s *Session) MoQURL() string { return s.moqURL }

func (s *Session) ChannelID() string { return s.channelID }

func (s *Session) Secret() []byte { return s.secret }

// GroupID returns the group identifier once known, or "" before the
// handshake has completed.
func (s *Session) GroupID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupID
}

// SetGroupID records the group identifier the handshake produced.
// Idempotent: setting the same id twice is a no-op.
func (s *Session) SetGroupID(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupID = groupID
}

// IsAdmin reports whether pubKeyHex is in the locally-known admin set.
// The set is seeded from the config's admin pubkeys and then replaced by
// SyncRoster from C1.list_members, the single source of truth for roster
// and admin state (spec §9 "one source of truth"); the controller consults
// it for the invite_member admin check.
func (s *Session) IsAdmin(pubKeyHex string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[pubKeyHex]
	return ok
}

// Peers returns a snapshot of the locally-known peer set.
func (s *Session) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.peers))
	for pk := range s.peers {
		out = append(out, pk)
	}
	return out
}

// SyncRoster replaces the locally-cached admin/peer sets with a fresh
// roster read, keeping the session's view aligned with the MLS
// library's authoritative enumeration after every commit merge.
func (s *Session) SyncRoster(members []RosterMember) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.admins = make(map[string]struct{})
	s.peers = make(map[string]struct{})
	for _, m := range members {
		if m.IsAdmin {
			s.admins[m.PubKey] = struct{}{}
		} else {
			s.peers[m.PubKey] = struct{}{}
		}
	}
}

// RosterMember is the minimal shape SyncRoster needs, kept narrow so
// this package doesn't import identity just to read two fields off
// identity.Member.
type RosterMember struct {
	PubKey  string
	IsAdmin bool
}
