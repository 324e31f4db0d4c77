package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/marmot-chat/marmot/identity/mls"
	"github.com/marmot-chat/marmot/identity/mls/memory"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

func randRead(b []byte) (int, error) { return rand.Read(b) }

// rotationHistoryLimit bounds the self-update ring kept purely for
// observability (spec SPEC_FULL.md "Key-rotation history").
const rotationHistoryLimit = 8

// GroupConfig carries the admin policy for a newly created group.
type GroupConfig struct {
	// ExtraAdmins lists invitee pubkeys (matching an entry in invitees)
	// who should be admitted as admins alongside the creator.
	ExtraAdmins [][]byte
}

// Handle is the single owner of all MLS cryptographic state for a process
// (spec §4.1 C1). It owns the long-term identity key, issues key packages,
// and drives group state through the mls.Library boundary.
type Handle struct {
	mu sync.Mutex

	key     *Key
	lib     mls.Library
	log     logger.Logger
	initKey *KeyPackage // the most recently issued, not-yet-consumed key package

	rotations map[string][]time.Time // groupID hex -> self-update timestamps, most-recent-last
}

// NewHandle performs create_identity: initializes key material from a
// caller-supplied secret. Idempotent per secret since NewKeyFromSecret is
// a pure derivation.
func NewHandle(secret []byte, log logger.Logger) (*Handle, error) {
	key, err := NewKeyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Handle{
		key:       key,
		lib:       memory.New(),
		log:       log,
		rotations: make(map[string][]time.Time),
	}, nil
}

// IdentityID returns the durable identifier for this process's identity.
func (h *Handle) IdentityID() string { return h.key.ID() }

// PubKeyHex returns the x-only public key, hex-encoded — the identifier
// used in relay signatures and MoQ per-member paths.
func (h *Handle) PubKeyHex() string { return h.key.XOnlyPubKeyHex() }

// SignKey exposes the identity key for components (bootstrap, relay) that
// need to sign or verify outside the MLS boundary.
func (h *Handle) SignKey() *Key { return h.key }

// CreateKeyPackage produces a signed offer plus a locally re-importable
// bundle (spec §4.1 create_key_package).
func (h *Handle) CreateKeyPackage(relayHint string) (KeyPackage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	initPub := make([]byte, 32)
	if _, err := randRead(initPub); err != nil {
		return KeyPackage{}, NewError(KindFatalCrypto, "failed to generate ephemeral init key", err)
	}

	pub := h.key.XOnlyPubKeyBytes()
	body := keyPackageBody{PubKey: pub[:], InitKey: initPub, RelayHint: relayHint}
	bundle, err := json.Marshal(body)
	if err != nil {
		return KeyPackage{}, NewError(KindFatalCrypto, "failed to marshal key package bundle", err)
	}
	sig, err := h.key.Sign(bundle)
	if err != nil {
		return KeyPackage{}, err
	}

	kp := KeyPackage{PubKey: pub[:], InitKey: initPub, Bundle: bundle, Signature: sig}
	h.initKey = &kp
	return kp, nil
}

func (h *Handle) toMLSKeyPackage(kp KeyPackage) mls.KeyPackage {
	return mls.KeyPackage{PubKey: kp.PubKey, InitKey: kp.InitKey, Raw: kp.Bundle}
}

// CreateGroup forms a new MLS group seeded with invitees' key packages; the
// creator is the sole admin unless listed in config.ExtraAdmins.
func (h *Handle) CreateGroup(cfg GroupConfig, invitees []KeyPackage) (groupID string, welcomes [][]byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	gid := make([]byte, 32)
	if _, rerr := randRead(gid); rerr != nil {
		return "", nil, NewError(KindFatalCrypto, "failed to generate group id", rerr)
	}

	pub := h.key.XOnlyPubKeyBytes()
	founder := mls.KeyPackage{PubKey: pub[:]}

	invs := make([]mls.KeyPackage, len(invitees))
	adminInvitees := make([]bool, len(invitees))
	for i, inv := range invitees {
		invs[i] = h.toMLSKeyPackage(inv)
		adminInvitees[i] = containsPubKey(cfg.ExtraAdmins, inv.PubKey)
	}

	mlsWelcomes, err := h.lib.CreateGroup(gid, founder, invs, adminInvitees)
	if err != nil {
		return "", nil, NewError(KindFatalCrypto, "create_group failed", err)
	}

	out := make([][]byte, len(mlsWelcomes))
	for i, w := range mlsWelcomes {
		out[i] = w.Raw
	}

	groupIDHex := hex.EncodeToString(gid)
	h.log.Info("group created", logger.String("group_id", groupIDHex), logger.Int("invitees", len(invitees)))
	return groupIDHex, out, nil
}

func containsPubKey(keys [][]byte, target []byte) bool {
	for _, k := range keys {
		if hex.EncodeToString(k) == hex.EncodeToString(target) {
			return true
		}
	}
	return false
}

// AcceptWelcome joins a group from a welcome envelope. Fails if the welcome
// is stale (prior epoch) or addresses a different key package.
func (h *Handle) AcceptWelcome(welcomeBytes []byte) (groupID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initKey == nil {
		return "", NewError(KindFatalConfig, "accept_welcome called with no outstanding key package", nil)
	}

	gid, err := h.lib.AcceptWelcome(mls.Welcome{Raw: welcomeBytes}, h.toMLSKeyPackage(*h.initKey))
	if err != nil {
		if memory.IsTransient(err) {
			return "", NewError(KindTransientMLS, "accept_welcome failed", err)
		}
		return "", NewError(KindFatalCrypto, "accept_welcome failed", err)
	}
	h.initKey = nil

	groupIDHex := hex.EncodeToString(gid)
	h.log.Info("welcome accepted", logger.String("group_id", groupIDHex))
	return groupIDHex, nil
}

// CreateMessage encrypts a user payload to the current epoch.
func (h *Handle) CreateMessage(groupID string, payload []byte) ([]byte, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wrapper, err := h.lib.Encrypt(gid, payload)
	if err != nil {
		return nil, NewError(KindFatalCrypto, "create_message failed", err)
	}
	return wrapper, nil
}

// IngestWrapper decrypts/processes an inbound wrapper.
func (h *Handle) IngestWrapper(wrapper []byte) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, err := h.lib.ProcessMessage(wrapper)
	if err != nil {
		if memory.IsTransient(err) {
			return unprocessableOutcome(err.Error(), true), nil
		}
		return unprocessableOutcome(err.Error(), false), nil
	}

	switch result.Kind {
	case mls.IngestApplication:
		return applicationOutcome(hex.EncodeToString(result.Author), result.Payload, time.Now()), nil
	case mls.IngestCommit:
		return commitOutcome(result.EpochAfter), nil
	case mls.IngestProposal:
		return proposalOutcome(), nil
	default:
		return unprocessableOutcome(fmt.Sprintf("unrecognized ingest kind %d", result.Kind), false), nil
	}
}

// SelfUpdate produces a key-rotation commit (new epoch).
func (h *Handle) SelfUpdate(groupID string) ([]byte, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wrapper, err := h.lib.SelfUpdate(gid)
	if err != nil {
		return nil, NewError(KindTransientMLS, "self_update failed", err)
	}
	h.recordRotation(groupID)
	return wrapper, nil
}

func (h *Handle) recordRotation(groupID string) {
	hist := append(h.rotations[groupID], time.Now())
	if len(hist) > rotationHistoryLimit {
		hist = hist[len(hist)-rotationHistoryLimit:]
	}
	h.rotations[groupID] = hist
}

// RotationCount reports how many self-updates this process has initiated
// for a group this session, counting at most the last
// rotationHistoryLimit — observability only (SPEC_FULL.md supplement).
func (h *Handle) RotationCount(groupID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rotations[groupID])
}

// MergePendingCommit advances epoch after observing own or remote commit.
func (h *Handle) MergePendingCommit(groupID string) (epochAfter uint64, err error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return 0, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	epochAfter, err = h.lib.MergePendingCommit(gid)
	if err != nil {
		return 0, NewError(KindTransientMLS, "merge_pending_commit failed", err)
	}
	metrics.GroupEpoch.WithLabelValues(groupID).Set(float64(epochAfter))
	return epochAfter, nil
}

// Member mirrors mls.Member for the identity package's public surface.
type Member struct {
	PubKey  string
	IsAdmin bool
	Active  bool
}

// ListMembers is the authoritative roster for a group.
func (h *Handle) ListMembers(groupID string) ([]Member, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	members, err := h.lib.ListMembers(gid)
	if err != nil {
		return nil, NewError(KindTransientMLS, "list_members failed", err)
	}
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = Member{PubKey: hex.EncodeToString(m.PubKey), IsAdmin: m.IsAdmin, Active: m.Active}
	}
	metrics.GroupMembers.WithLabelValues(groupID).Set(float64(len(out)))
	return out, nil
}

// CurrentEpoch reports the group's current epoch number (spec §6.3
// "current_epoch" host-engine surface).
func (h *Handle) CurrentEpoch(groupID string) (uint64, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return 0, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	epoch, err := h.lib.Epoch(gid)
	if err != nil {
		return 0, NewError(KindTransientMLS, "current_epoch failed", err)
	}
	return epoch, nil
}

// ExportSecret is the MLS exporter, used by the media key schedule (§4.5).
func (h *Handle) ExportSecret(groupID string, label string, context []byte, length int) ([]byte, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	secret, err := h.lib.Export(gid, label, context, length)
	if err != nil {
		return nil, NewError(KindTransientMLS, "export_secret failed", err)
	}
	return secret, nil
}

// OwnLeafBytes returns this member's leaf identifier within a group.
func (h *Handle) OwnLeafBytes(groupID string) ([]byte, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lib.OwnLeafBytes(gid)
}

// DeriveGroupRoot computes "marmot/<hex>" = hex(MLS-Exporter("moq-group-root-v1", group_id, 16)),
// stable across epochs and identical across all members (spec §3 invariant).
func (h *Handle) DeriveGroupRoot(groupID string) (string, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return "", NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	root, err := h.lib.Export(gid, "moq-group-root-v1", gid, 16)
	h.mu.Unlock()
	if err != nil {
		return "", NewError(KindTransientMLS, "derive_group_root failed", err)
	}
	return "marmot/" + hex.EncodeToString(root), nil
}

// InviteMember builds an MLS add proposal + commit for candidate, plus the
// welcome that lets candidate join at the resulting epoch: candidate has no
// prior group state to derive that epoch from (unlike an existing member,
// who advances via the commit wrapper itself), so the two must travel
// together. The caller publishes commitWrapper over the group's transport
// and welcomeBytes over the signalling relay directly to candidate (spec
// §4.2's bootstrap-style welcome delivery, reused for mid-group invites).
func (h *Handle) InviteMember(groupID string, candidate KeyPackage, isAdmin bool) (commitWrapper []byte, welcomeBytes []byte, err error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, nil, NewError(KindFatalConfig, "invalid group id", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wrapper, welcome, err := h.lib.ProposeAdd(gid, h.toMLSKeyPackage(candidate), isAdmin)
	if err != nil {
		return nil, nil, NewError(KindTransientMLS, "invite_member failed", err)
	}
	return wrapper, welcome.Raw, nil
}

// RemoveMember builds an MLS remove proposal + commit for pubKeyHex.
func (h *Handle) RemoveMember(groupID string, pubKeyHex string) ([]byte, error) {
	gid, err := hex.DecodeString(groupID)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid group id", err)
	}
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, NewError(KindFatalConfig, "invalid member pubkey", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wrapper, err := h.lib.ProposeRemove(gid, pubKey)
	if err != nil {
		return nil, NewError(KindTransientMLS, "remove_member failed", err)
	}
	return wrapper, nil
}
