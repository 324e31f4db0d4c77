// Package mls defines the narrow MLS library boundary the engine consumes,
// per spec §6.5: key-package generation, group creation with initial
// members, welcome acceptance, application encrypt/decrypt, add-proposal +
// commit, self-update commit, epoch exporter, and roster enumeration with
// admin flags. The engine treats any implementation of Library as an
// external collaborator (spec §1); package mls/memory supplies a
// from-scratch reference implementation.
package mls

import "time"

// Member is one roster entry.
type Member struct {
	PubKey  []byte
	IsAdmin bool
	Active  bool
}

// KeyPackage is a signed MLS offer a prospective member publishes.
type KeyPackage struct {
	PubKey  []byte
	InitKey []byte
	Raw     []byte // opaque, locally re-importable bundle
}

// Welcome initializes a new member's local group state.
type Welcome struct {
	GroupID []byte
	Epoch   uint64
	Raw     []byte
}

// IngestKind discriminates what ProcessMessage decoded.
type IngestKind int

const (
	IngestApplication IngestKind = iota
	IngestCommit
	IngestProposal
)

// IngestResult is what the MLS library hands back after decoding an
// incoming wrapper; the identity package maps this onto its own Outcome.
type IngestResult struct {
	Kind        IngestKind
	Author      []byte
	Payload     []byte
	EpochAfter  uint64
}

// Library is the MLS boundary the engine's identity.Handle drives. Errors
// returned by any method are wrapped by the caller into identity.Error with
// the appropriate Kind; Library implementations return plain errors. This
// package defines no sentinel errors: identity.Handle classifies transient
// vs fatal with memory.IsTransient.
type Library interface {
	// CreateGroup forms a new group with this member as founder, always
	// an admin, seeded with the given invitee key packages.
	// adminInvitees parallels invitees by index: true promotes that
	// invitee to admin alongside the founder (spec §4.1).
	CreateGroup(groupID []byte, founder KeyPackage, invitees []KeyPackage, adminInvitees []bool) (Welcomes []Welcome, err error)

	// AcceptWelcome joins a group from a welcome envelope.
	AcceptWelcome(w Welcome, own KeyPackage) (groupID []byte, err error)

	// Encrypt produces an MLS application wrapper for payload at the
	// current epoch.
	Encrypt(groupID []byte, payload []byte) (wrapper []byte, err error)

	// ProcessMessage decrypts/decodes an inbound wrapper for any group
	// this member belongs to.
	ProcessMessage(wrapper []byte) (IngestResult, error)

	// SelfUpdate produces a key-rotation commit for groupID (new epoch).
	SelfUpdate(groupID []byte) (commitWrapper []byte, err error)

	// Propose builds an add or remove proposal for the given member,
	// returning the commit wrapper once committed. ProposeAdd additionally
	// returns a Welcome addressed to candidate: unlike CreateGroup (which
	// forms epoch 0 directly), adding a member to a running group commits
	// the existing roster to an epoch the candidate cannot derive on its
	// own, so it needs its own welcome into that epoch.
	ProposeAdd(groupID []byte, candidate KeyPackage, isAdmin bool) (commitWrapper []byte, welcome Welcome, err error)
	ProposeRemove(groupID []byte, pubKey []byte) (commitWrapper []byte, err error)

	// MergePendingCommit advances the group to the epoch implied by the
	// most recently produced or ingested commit.
	MergePendingCommit(groupID []byte) (epochAfter uint64, err error)

	// ListMembers is the authoritative roster for a group.
	ListMembers(groupID []byte) ([]Member, error)

	// Epoch returns the current epoch number for a group.
	Epoch(groupID []byte) (uint64, error)

	// Export derives an MLS exporter secret (application-specific,
	// bound to the current epoch's key schedule).
	Export(groupID []byte, label string, context []byte, length int) ([]byte, error)

	// OwnLeafBytes returns this member's leaf identifier within a group,
	// used as the `S.leaf` input to the media base-key derivation (spec §4.5).
	OwnLeafBytes(groupID []byte) ([]byte, error)
}

// KeyPackageTTL bounds how long a generated key package bundle remains
// locally re-importable before the identity layer should regenerate it.
const KeyPackageTTL = 10 * time.Minute
