package identity

import (
	"encoding/json"
	"fmt"
)

// KeyPackage is the signed, locally re-importable offer produced by
// create_key_package (spec §4.1, §3). Bundle is the opaque wire
// representation published via the bootstrap handshake; Signature proves
// the identity key endorses it.
type KeyPackage struct {
	PubKey    []byte // identity x-only pubkey (durable member identifier)
	InitKey   []byte // ephemeral MLS init key, public
	Bundle    []byte // signed, JSON-serialized {pub_key, init_key, relay_hint}
	Signature []byte
}

type keyPackageBody struct {
	PubKey    []byte `json:"pub_key"`
	InitKey   []byte `json:"init_key"`
	RelayHint string `json:"relay_hint,omitempty"`
}

// ParseKeyPackageBundle restores PubKey/InitKey from a bundle received
// over the wire: the bootstrap and invite handshakes relay only Bundle
// bytes (the opaque envelope payload), but CreateGroup/InviteMember need
// the decoded pubkey and init key to seed the new member's roster entry.
func ParseKeyPackageBundle(bundle []byte) (KeyPackage, error) {
	var body keyPackageBody
	if err := json.Unmarshal(bundle, &body); err != nil {
		return KeyPackage{}, fmt.Errorf("unmarshal key package bundle: %w", err)
	}
	return KeyPackage{PubKey: body.PubKey, InitKey: body.InitKey, Bundle: bundle}, nil
}
