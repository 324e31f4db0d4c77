// Package memory is a from-scratch, in-process implementation of the
// identity/mls.Library boundary, grounded on germtb-mlsgit's
// internal/mls/{group,epoch}.go: group state is a plain struct advanced by
// an HKDF-derived epoch secret chain rather than a real ratchet tree. It is
// not wire-compatible with any production MLS implementation; it exists so
// the engine can be exercised end-to-end without an external MLS library
// dependency, matching spec §6.5's narrow-interface boundary.
package memory

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marmot-chat/marmot/identity/mls"
)

type memberEntry struct {
	PubKey  []byte `json:"pub_key"`
	InitKey []byte `json:"init_key"`
	IsAdmin bool   `json:"is_admin"`
	Active  bool   `json:"active"`
}

type pendingCommit struct {
	epochAfter uint64
	members    []memberEntry
}

type groupState struct {
	groupID      []byte
	epoch        uint64
	archive      *epochArchive
	members      []memberEntry
	ownLeafIndex int
	pending      *pendingCommit
}

func (g *groupState) currentSecret() []byte {
	s, ok := g.archive.get(g.epoch)
	if !ok {
		panic("memory mls: missing epoch secret for current epoch")
	}
	return s
}

// Library implements identity/mls.Library entirely in memory.
type Library struct {
	mu     sync.Mutex
	groups map[string]*groupState
}

// New creates an empty in-memory MLS library.
func New() *Library {
	return &Library{groups: make(map[string]*groupState)}
}

func groupKey(groupID []byte) string { return string(groupID) }

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate epoch secret: %w", err)
	}
	return b, nil
}

// CreateGroup forms a new group with founder as the sole admin unless
// adminInvitees promotes other invitees alongside it.
func (l *Library) CreateGroup(groupID []byte, founder mls.KeyPackage, invitees []mls.KeyPackage, adminInvitees []bool) ([]mls.Welcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}

	members := make([]memberEntry, 0, len(invitees)+1)
	members = append(members, memberEntry{PubKey: founder.PubKey, InitKey: founder.InitKey, IsAdmin: true, Active: true})
	for i, inv := range invitees {
		isAdmin := i < len(adminInvitees) && adminInvitees[i]
		members = append(members, memberEntry{PubKey: inv.PubKey, InitKey: inv.InitKey, IsAdmin: isAdmin, Active: true})
	}

	g := &groupState{
		groupID:      groupID,
		epoch:        0,
		archive:      newEpochArchive(0, secret),
		members:      members,
		ownLeafIndex: 0,
	}
	l.groups[groupKey(groupID)] = g

	welcomes := make([]mls.Welcome, 0, len(invitees))
	for i, inv := range invitees {
		leafIndex := i + 1 // founder occupies index 0
		raw, err := json.Marshal(welcomeWire{
			GroupID:   groupID,
			Epoch:     0,
			Secret:    secret,
			Members:   members,
			LeafIndex: leafIndex,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal welcome: %w", err)
		}
		_ = inv // invitee's own key package is re-derived locally on their side from PubKey match
		welcomes = append(welcomes, mls.Welcome{GroupID: groupID, Epoch: 0, Raw: raw})
	}
	return welcomes, nil
}

type welcomeWire struct {
	GroupID   []byte        `json:"group_id"`
	Epoch     uint64        `json:"epoch"`
	Secret    []byte        `json:"secret"`
	Members   []memberEntry `json:"members"`
	LeafIndex int           `json:"leaf_index"`
}

// AcceptWelcome joins a group from a welcome envelope, failing if the
// welcome addresses a different key package than the caller's own.
func (l *Library) AcceptWelcome(w mls.Welcome, own mls.KeyPackage) ([]byte, error) {
	var wire welcomeWire
	if err := json.Unmarshal(w.Raw, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal welcome: %w", err)
	}

	if wire.LeafIndex < 0 || wire.LeafIndex >= len(wire.Members) {
		return nil, fmt.Errorf("welcome leaf index %d out of range", wire.LeafIndex)
	}
	addressed := wire.Members[wire.LeafIndex]
	if string(addressed.PubKey) != string(own.PubKey) {
		return nil, fmt.Errorf("welcome addresses a different key package than our own")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.groups[groupKey(wire.GroupID)]; ok && existing.epoch > wire.Epoch {
		return nil, errTransient{fmt.Errorf("stale welcome: local epoch %d is ahead of welcome epoch %d", existing.epoch, wire.Epoch)}
	}

	g := &groupState{
		groupID:      wire.GroupID,
		epoch:        wire.Epoch,
		archive:      newEpochArchive(wire.Epoch, wire.Secret),
		members:      wire.Members,
		ownLeafIndex: wire.LeafIndex,
	}
	l.groups[groupKey(wire.GroupID)] = g
	return wire.GroupID, nil
}

// ListMembers returns the authoritative roster for a group.
func (l *Library) ListMembers(groupID []byte) ([]mls.Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}
	out := make([]mls.Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, mls.Member{PubKey: m.PubKey, IsAdmin: m.IsAdmin, Active: m.Active})
	}
	return out, nil
}

// Epoch returns the current epoch number for a group.
func (l *Library) Epoch(groupID []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return 0, fmt.Errorf("unknown group")
	}
	return g.epoch, nil
}

// Export derives an application-specific secret from the current epoch's
// key schedule (the MLS Exporter primitive).
func (l *Library) Export(groupID []byte, label string, context []byte, length int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}
	return exportSecret(g.currentSecret(), label, context, length), nil
}

// OwnLeafBytes returns this member's leaf identifier, used as the `S.leaf`
// input to the media base-key derivation (spec §4.5).
func (l *Library) OwnLeafBytes(groupID []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}
	if g.ownLeafIndex < 0 || g.ownLeafIndex >= len(g.members) {
		return nil, fmt.Errorf("own leaf index out of range")
	}
	return g.members[g.ownLeafIndex].PubKey, nil
}
