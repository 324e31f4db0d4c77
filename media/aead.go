package media

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AAD builds the associated data for one audio frame (spec §4.5):
// 0x01 || utf8(groupRoot) || utf8(trackLabel) || u64(epoch) ||
// u64(groupSeq) || u64(frameIdx) || u8(keyframe).
func AAD(groupRoot, trackLabel string, epoch, groupSeq, frameIdx uint64, keyframe bool) []byte {
	out := make([]byte, 0, 1+len(groupRoot)+len(trackLabel)+8+8+8+1)
	out = append(out, 0x01)
	out = append(out, groupRoot...)
	out = append(out, trackLabel...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], epoch)
	out = append(out, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], groupSeq)
	out = append(out, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], frameIdx)
	out = append(out, u64[:]...)

	if keyframe {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// EncryptFrame seals plaintext under generation g's key, producing the
// wire frame u32-be(counter) || AEAD(K_g, nonce, plaintext, aad).
func EncryptFrame(gen Generation, counter uint32, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(gen.Key)
	if err != nil {
		return nil, fmt.Errorf("media aead init: %w", err)
	}
	nonce := Nonce(gen.Salt, counter)

	out := make([]byte, 4, 4+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint32(out, counter)
	out = aead.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// DecryptFrame opens a wire frame produced by EncryptFrame. The caller
// supplies the generation matching the frame's embedded counter (see
// GenerationOf); the counter is re-read from the wire bytes and
// returned alongside the plaintext so callers don't need to parse it
// twice.
func DecryptFrame(gen Generation, wire, aad []byte) (counter uint32, plaintext []byte, err error) {
	if len(wire) < 4 {
		return 0, nil, fmt.Errorf("media frame too short: %d bytes", len(wire))
	}
	counter = binary.BigEndian.Uint32(wire[:4])

	aead, err := chacha20poly1305.New(gen.Key)
	if err != nil {
		return 0, nil, fmt.Errorf("media aead init: %w", err)
	}
	nonce := Nonce(gen.Salt, counter)

	plaintext, err = aead.Open(nil, nonce, wire[4:], aad)
	if err != nil {
		return 0, nil, fmt.Errorf("media frame decrypt failed: %w", err)
	}
	return counter, plaintext, nil
}
