// Package relay implements the signed-event broadcast protocol the engine
// uses for out-of-band bootstrap (spec §6.1): a reserved event kind tagged
// with a session id, signed by the sender's identity key, deduplicated by
// event id.
package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmot-chat/marmot/identity"
)

// Kind is the reserved event kind carrying bootstrap envelopes on the
// signalling relay. Events of any other kind are ignored by this engine.
const Kind = 20701

// Event is a signed broadcast on the relay. Tags carry session and type
// so relay-side filtering (`#t == session_id`) works without inspecting
// content.
type Event struct {
	ID        string   `json:"id"`
	Kind      int      `json:"kind"`
	PubKey    string   `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Tags      [][2]string `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig"`
}

// Tag keys used in Tags.
const (
	tagSession = "t"
	tagType    = "type"
	tagRole    = "role"
)

func (e *Event) tag(key string) (string, bool) {
	for _, t := range e.Tags {
		if t[0] == key {
			return t[1], true
		}
	}
	return "", false
}

// SessionID returns the bootstrap channel id this event is tagged with.
func (e *Event) SessionID() (string, bool) { return e.tag(tagSession) }

// EnvelopeType returns the bootstrap envelope type this event carries.
func (e *Event) EnvelopeType() (string, bool) { return e.tag(tagType) }

// Role returns the sender's declared role (creator/invitee).
func (e *Event) Role() (string, bool) { return e.tag(tagRole) }

// signingPayload mirrors the canonical (pre-id, pre-sig) fields hashed to
// produce the event id and signed, following the relay's "sign everything
// but id/sig" convention.
type signingPayload struct {
	PubKey    string      `json:"pubkey"`
	CreatedAt int64       `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      [][2]string `json:"tags"`
	Content   string      `json:"content"`
}

func canonicalBytes(pubKeyHex string, createdAt int64, kind int, tags [][2]string, content string) ([]byte, error) {
	return json.Marshal(signingPayload{PubKey: pubKeyHex, CreatedAt: createdAt, Kind: kind, Tags: tags, Content: content})
}

// NewSignedEvent builds and signs an event carrying content (typically a
// marshaled bootstrap envelope body) for sessionID with the given type and
// role, keyed by key.
func NewSignedEvent(key *identity.Key, sessionID, envelopeType, role string, content []byte) (*Event, error) {
	pubHex := key.XOnlyPubKeyHex()
	createdAt := time.Now().Unix()
	tags := [][2]string{{tagSession, sessionID}, {tagType, envelopeType}, {tagRole, role}}
	contentStr := string(content)

	canon, err := canonicalBytes(pubHex, createdAt, Kind, tags, contentStr)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical event: %w", err)
	}
	digest := sha256.Sum256(canon)
	id := hex.EncodeToString(digest[:])

	sig, err := key.Sign(canon)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}

	return &Event{
		ID:        id,
		Kind:      Kind,
		PubKey:    pubHex,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   contentStr,
		Sig:       hex.EncodeToString(sig),
	}, nil
}

// Verify checks the event's id (content hash) and Schnorr signature.
func (e *Event) Verify() error {
	canon, err := canonicalBytes(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
	if err != nil {
		return fmt.Errorf("marshal canonical event: %w", err)
	}
	digest := sha256.Sum256(canon)
	if hex.EncodeToString(digest[:]) != e.ID {
		return fmt.Errorf("event id does not match content hash")
	}

	pubKey, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("invalid event pubkey: %w", err)
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("invalid event signature encoding: %w", err)
	}
	return identity.VerifyXOnly(pubKey, canon, sig)
}

// NewBootstrapChannelID generates a random 128-bit bootstrap channel id
// (spec §3 "Session"), used only to correlate pre-group handshake events.
func NewBootstrapChannelID() string {
	return uuid.NewString()
}
