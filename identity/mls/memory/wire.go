package memory

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/marmot-chat/marmot/identity/mls"
)

type wireKind string

const (
	wireApplication wireKind = "app"
	wireCommit      wireKind = "commit"
)

type wireWrapper struct {
	Kind    wireKind `json:"kind"`
	GroupID []byte   `json:"group_id"`
	Epoch   uint64   `json:"epoch"`
	Author  []byte   `json:"author"`

	// application fields
	Nonce  []byte `json:"nonce,omitempty"`
	Cipher []byte `json:"cipher,omitempty"`

	// commit fields
	NewEpoch uint64        `json:"new_epoch,omitempty"`
	Members  []memberEntry `json:"members,omitempty"`
	MAC      []byte        `json:"mac,omitempty"`
}

func applicationAEAD(epochSecret []byte) (chacha20poly1305.AEAD, error) {
	key := exportSecret(epochSecret, "mls-application-key-v1", nil, chacha20poly1305.KeySize)
	return chacha20poly1305.New(key)
}

// Encrypt produces an MLS application wrapper for payload at the current epoch.
func (l *Library) Encrypt(groupID []byte, payload []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}

	aead, err := applicationAEAD(g.currentSecret())
	if err != nil {
		return nil, fmt.Errorf("build application AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	cipher := aead.Seal(nil, nonce, payload, groupID)

	w := wireWrapper{
		Kind:    wireApplication,
		GroupID: groupID,
		Epoch:   g.epoch,
		Author:  g.members[g.ownLeafIndex].PubKey,
		Nonce:   nonce,
		Cipher:  cipher,
	}
	return json.Marshal(w)
}

func commitMAC(oldSecret []byte, newEpoch uint64, members []memberEntry) ([]byte, error) {
	membersJSON, err := json.Marshal(members)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, oldSecret)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], newEpoch)
	mac.Write(eb[:])
	mac.Write(membersJSON)
	return mac.Sum(nil), nil
}

func (l *Library) buildCommit(g *groupState, newMembers []memberEntry) ([]byte, error) {
	newEpoch := g.epoch + 1
	mac, err := commitMAC(g.currentSecret(), newEpoch, newMembers)
	if err != nil {
		return nil, err
	}

	g.pending = &pendingCommit{epochAfter: newEpoch, members: newMembers}

	w := wireWrapper{
		Kind:     wireCommit,
		GroupID:  g.groupID,
		Epoch:    g.epoch,
		Author:   g.members[g.ownLeafIndex].PubKey,
		NewEpoch: newEpoch,
		Members:  newMembers,
		MAC:      mac,
	}
	return json.Marshal(w)
}

// SelfUpdate produces a key-rotation commit (same roster, new epoch).
func (l *Library) SelfUpdate(groupID []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}
	if g.pending != nil {
		return nil, fmt.Errorf("a commit is already pending for this group")
	}
	return l.buildCommit(g, g.members)
}

// ProposeAdd builds and commits an add proposal in one step, and also
// returns a welcome addressing candidate into the post-commit epoch. The
// new epoch's secret is a deterministic function of the current secret
// and the new epoch number (advanceEpochSecret), so it can be computed
// here without waiting for MergePendingCommit.
func (l *Library) ProposeAdd(groupID []byte, candidate mls.KeyPackage, isAdmin bool) ([]byte, mls.Welcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, mls.Welcome{}, fmt.Errorf("unknown group")
	}
	if g.pending != nil {
		return nil, mls.Welcome{}, fmt.Errorf("a commit is already pending for this group")
	}

	newMembers := make([]memberEntry, len(g.members), len(g.members)+1)
	copy(newMembers, g.members)
	newMembers = append(newMembers, memberEntry{
		PubKey: candidate.PubKey, InitKey: candidate.InitKey, IsAdmin: isAdmin, Active: true,
	})

	commitWrapper, err := l.buildCommit(g, newMembers)
	if err != nil {
		return nil, mls.Welcome{}, err
	}

	newEpoch := g.pending.epochAfter
	newSecret := advanceEpochSecret(g.currentSecret(), newEpoch)
	raw, err := json.Marshal(welcomeWire{
		GroupID:   groupID,
		Epoch:     newEpoch,
		Secret:    newSecret,
		Members:   newMembers,
		LeafIndex: len(newMembers) - 1,
	})
	if err != nil {
		return nil, mls.Welcome{}, fmt.Errorf("marshal welcome: %w", err)
	}
	return commitWrapper, mls.Welcome{GroupID: groupID, Epoch: newEpoch, Raw: raw}, nil
}

// ProposeRemove builds and commits a remove proposal in one step.
func (l *Library) ProposeRemove(groupID []byte, pubKey []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return nil, fmt.Errorf("unknown group")
	}
	if g.pending != nil {
		return nil, fmt.Errorf("a commit is already pending for this group")
	}

	newMembers := make([]memberEntry, 0, len(g.members))
	for _, m := range g.members {
		if string(m.PubKey) == string(pubKey) {
			m.Active = false
		}
		newMembers = append(newMembers, m)
	}
	return l.buildCommit(g, newMembers)
}

// MergePendingCommit advances the group to the epoch implied by the most
// recently produced or ingested commit.
func (l *Library) MergePendingCommit(groupID []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(groupID)]
	if !ok {
		return 0, fmt.Errorf("unknown group")
	}
	if g.pending == nil {
		return g.epoch, nil
	}

	newSecret := advanceEpochSecret(g.currentSecret(), g.pending.epochAfter)
	g.archive.put(g.pending.epochAfter, newSecret)
	g.epoch = g.pending.epochAfter
	g.members = g.pending.members
	g.pending = nil
	return g.epoch, nil
}

// ProcessMessage decrypts/decodes an inbound wrapper for any group this
// member belongs to.
func (l *Library) ProcessMessage(wrapper []byte) (mls.IngestResult, error) {
	var w wireWrapper
	if err := json.Unmarshal(wrapper, &w); err != nil {
		return mls.IngestResult{}, fmt.Errorf("unmarshal wrapper: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[groupKey(w.GroupID)]
	if !ok {
		return mls.IngestResult{}, fmt.Errorf("unknown group")
	}

	switch w.Kind {
	case wireApplication:
		return l.processApplication(g, w)
	case wireCommit:
		return l.processCommit(g, w)
	default:
		return mls.IngestResult{}, fmt.Errorf("unrecognized wrapper kind %q", w.Kind)
	}
}

func (l *Library) processApplication(g *groupState, w wireWrapper) (mls.IngestResult, error) {
	if w.Epoch > g.epoch {
		return mls.IngestResult{}, errTransient{fmt.Errorf("application wrapper is for epoch %d, ahead of local epoch %d", w.Epoch, g.epoch)}
	}

	secret, ok := g.archive.get(w.Epoch)
	if !ok {
		return mls.IngestResult{}, errTransient{fmt.Errorf("no archived secret for epoch %d", w.Epoch)}
	}

	aead, err := applicationAEAD(secret)
	if err != nil {
		return mls.IngestResult{}, fmt.Errorf("build application AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, w.Nonce, w.Cipher, w.GroupID)
	if err != nil {
		return mls.IngestResult{}, fmt.Errorf("application AEAD open failed: %w", err)
	}

	return mls.IngestResult{Kind: mls.IngestApplication, Author: w.Author, Payload: plaintext, EpochAfter: g.epoch}, nil
}

func (l *Library) processCommit(g *groupState, w wireWrapper) (mls.IngestResult, error) {
	if w.NewEpoch <= g.epoch {
		// Already merged (duplicate delivery); idempotent no-op.
		return mls.IngestResult{Kind: mls.IngestCommit, EpochAfter: g.epoch}, nil
	}
	if w.NewEpoch > g.epoch+1 {
		return mls.IngestResult{}, errTransient{fmt.Errorf("commit targets epoch %d, missing an intermediate commit past %d", w.NewEpoch, g.epoch)}
	}

	expectedMAC, err := commitMAC(g.currentSecret(), w.NewEpoch, w.Members)
	if err != nil {
		return mls.IngestResult{}, err
	}
	if !hmac.Equal(expectedMAC, w.MAC) {
		return mls.IngestResult{}, fmt.Errorf("commit authentication failed")
	}

	g.pending = &pendingCommit{epochAfter: w.NewEpoch, members: w.Members}
	return mls.IngestResult{Kind: mls.IngestCommit, EpochAfter: w.NewEpoch}, nil
}

// errTransient marks an error as transient (recoverable by retry after
// further progress, e.g. a commit merge), per spec §4.1's error policy.
// The identity package checks for this via IsTransient.
type errTransient struct{ error }

func (e errTransient) Unwrap() error { return e.error }

// IsTransient reports whether err was produced by this library as a
// transient (retryable) failure rather than a fatal one.
func IsTransient(err error) bool {
	_, ok := err.(errTransient)
	return ok
}
