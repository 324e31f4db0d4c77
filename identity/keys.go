package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/marmot-chat/marmot/internal/metrics"
)

// Key is the engine's identity keypair: a 32-byte secp256k1 private key
// whose x-only public key is the durable identifier used in both relay
// signatures and MoQ per-member paths (spec §3).
type Key struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1.PublicKey
}

// NewKeyFromSecret derives an identity keypair from a caller-supplied
// 32-byte secret. Deterministic and idempotent per secret, per
// create_identity's contract in spec §4.1.
func NewKeyFromSecret(secret []byte) (*Key, error) {
	if len(secret) != 32 {
		return nil, NewError(KindFatalConfig, fmt.Sprintf("identity secret must be 32 bytes, got %d", len(secret)), nil)
	}
	priv := secp256k1.PrivKeyFromBytes(secret)
	return &Key{priv: priv, pub: priv.PubKey()}, nil
}

// GenerateKey creates a new random identity keypair.
func GenerateKey() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, NewError(KindFatalCrypto, "failed to generate identity key", err)
	}
	return &Key{priv: priv, pub: priv.PubKey()}, nil
}

// XOnlyPubKeyBytes returns the 32-byte x-only public key used as the
// durable identifier (spec §3, §6.1).
func (k *Key) XOnlyPubKeyBytes() [32]byte {
	return *schnorr.SerializePubKey(k.pub)
}

// XOnlyPubKeyHex returns the x-only public key, hex-encoded.
func (k *Key) XOnlyPubKeyHex() string {
	b := k.XOnlyPubKeyBytes()
	return hex.EncodeToString(b[:])
}

// ID returns a short identifier derived from the x-only public key,
// following the teacher's hash-then-truncate convention for key ids.
func (k *Key) ID() string {
	b := k.XOnlyPubKeyBytes()
	h := sha256.Sum256(b[:])
	return hex.EncodeToString(h[:8])
}

// Sign produces a BIP-340 Schnorr signature over the SHA-256 digest of msg.
func (k *Key) Sign(msg []byte) ([]byte, error) {
	start := time.Now()
	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(k.priv, digest[:])
	metrics.CryptoOperationDuration.WithLabelValues("sign", "schnorr").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, NewError(KindFatalCrypto, "schnorr sign failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("sign", "schnorr").Inc()
	return sig.Serialize(), nil
}

// VerifyXOnly verifies a BIP-340 Schnorr signature over msg against an
// x-only public key (32 bytes), as used for relay event verification where
// the engine may not hold the signer's private key.
func VerifyXOnly(pubKeyXOnly []byte, msg, sig []byte) error {
	start := time.Now()
	pub, err := schnorr.ParsePubKey(pubKeyXOnly)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return NewError(KindFatalCrypto, "invalid x-only public key", err)
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return NewError(KindFatalCrypto, "invalid schnorr signature encoding", err)
	}
	digest := sha256.Sum256(msg)
	ok := parsed.Verify(digest[:], pub)
	metrics.CryptoOperationDuration.WithLabelValues("verify", "schnorr").Observe(time.Since(start).Seconds())
	if !ok {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return NewError(KindFatalCrypto, "schnorr signature verification failed", nil)
	}
	metrics.CryptoOperations.WithLabelValues("verify", "schnorr").Inc()
	return nil
}

// Verify verifies a signature produced by Sign against this key's own
// public key.
func (k *Key) Verify(msg, sig []byte) error {
	b := k.XOnlyPubKeyBytes()
	return VerifyXOnly(b[:], msg, sig)
}
