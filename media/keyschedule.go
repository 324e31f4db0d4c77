// Package media derives per-generation AEAD keys from MLS exporter
// secrets and encrypts/decrypts audio frames under them, entirely
// off the current group's key schedule (no media-specific key
// storage outside the exporter derivation).
package media

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	baseKeyLabel = "moq-media-base-v1"
	baseKeyLen   = 32

	genKeyLen  = 32
	genSaltLen = 12
)

// Exporter is the subset of identity.Handle this package depends on,
// kept narrow so media can be tested without a real MLS group.
type Exporter interface {
	ExportSecret(groupID, label string, context []byte, length int) ([]byte, error)
}

// BaseKey derives the per-(sender, track, epoch) base secret:
// base = MLS-Exporter("moq-media-base-v1", senderLeaf || trackLabel || be64(epoch), 32).
func BaseKey(exp Exporter, groupID string, senderLeaf []byte, trackLabel string, epoch uint64) ([]byte, error) {
	ctx := make([]byte, 0, len(senderLeaf)+len(trackLabel)+8)
	ctx = append(ctx, senderLeaf...)
	ctx = append(ctx, trackLabel...)
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], epoch)
	ctx = append(ctx, epochBuf[:]...)

	base, err := exp.ExportSecret(groupID, baseKeyLabel, ctx, baseKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive media base key: %w", err)
	}
	return base, nil
}

// Generation is the AEAD key and nonce salt for one generation of a
// base key's ratchet (spec §4.5 "Generation ratchet").
type Generation struct {
	Key  []byte // 32 bytes
	Salt []byte // 12 bytes
}

// DeriveGeneration computes K_g = HKDF-Expand(base, "k"||g, 32) and
// N_salt_g = HKDF-Expand(base, "n"||g, 12) for generation g (0..255).
func DeriveGeneration(base []byte, g byte) (Generation, error) {
	key, err := hkdfExpand(base, append([]byte("k"), g), genKeyLen)
	if err != nil {
		return Generation{}, err
	}
	salt, err := hkdfExpand(base, append([]byte("n"), g), genSaltLen)
	if err != nil {
		return Generation{}, err
	}
	return Generation{Key: key, Salt: salt}, nil
}

func hkdfExpand(secret, info []byte, length int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, secret, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// GenerationOf extracts the generation number (high byte) from a
// 32-bit frame counter (spec §4.5 "Nonce").
func GenerationOf(counter uint32) byte {
	return byte(counter >> 24)
}

// Nonce builds the 96-bit AEAD nonce for frame counter c under
// generation salt N_salt_g: N_salt_g XOR a 12-byte value whose first 9
// bytes are zero and whose last 3 bytes carry the 24-bit
// intra-generation counter (the low 3 bytes of c) in little-endian
// order, i.e. byte 9 is the least significant. The high byte of c has
// already selected the generation (and therefore the salt) and does
// not otherwise participate.
//
// Worked example: salt = 12 zero bytes, c = 0x00000101 (generation 0,
// intra-generation counter 0x000101) yields nonce bytes
// 00 00 00 00 00 00 00 00 00 01 01 00.
func Nonce(salt []byte, counter uint32) []byte {
	n := make([]byte, 12)
	copy(n, salt)

	n[9] ^= byte(counter)
	n[10] ^= byte(counter >> 8)
	n[11] ^= byte(counter >> 16)
	return n
}
