package memory

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// epochArchive retains every epoch secret this member has ever derived for
// a group, so application wrappers stamped with an older (but already
// reached) epoch can still be decrypted. Modeled on germtb-mlsgit's
// EpochKeyArchive: a map keyed by epoch number.
type epochArchive struct {
	secrets map[uint64][]byte
}

func newEpochArchive(initial uint64, secret []byte) *epochArchive {
	a := &epochArchive{secrets: make(map[uint64][]byte)}
	a.put(initial, secret)
	return a
}

func (a *epochArchive) put(epoch uint64, secret []byte) {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	a.secrets[epoch] = cp
}

func (a *epochArchive) get(epoch uint64) ([]byte, bool) {
	s, ok := a.secrets[epoch]
	return s, ok
}

// advanceEpochSecret derives the next epoch secret deterministically from the
// current one, so every current member reaches the identical new secret
// without the commit needing to carry it. Grounded on germtb-mlsgit's
// exportSecret (HKDF over SHA-256).
func advanceEpochSecret(oldSecret []byte, newEpoch uint64) []byte {
	info := make([]byte, 0, 16)
	info = append(info, []byte("mls-epoch-advance-v1")...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], newEpoch)
	info = append(info, eb[:]...)

	r := hkdf.New(sha256.New, oldSecret, nil, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("hkdf epoch advance: %v", err))
	}
	return out
}

// exportSecret derives an application-specific secret from an epoch secret,
// the MLS Exporter primitive of spec §4.1/§6.5.
func exportSecret(epochSecret []byte, label string, context []byte, length int) []byte {
	info := append([]byte(label), context...)
	r := hkdf.New(sha256.New, epochSecret, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("hkdf export: %v", err))
	}
	return out
}
