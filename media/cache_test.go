package media

import (
	"bytes"
	"testing"
	"time"
)

var (
	leafA = []byte{0xaa}
	leafB = []byte{0xbb}
)

func TestCachePutGetRoundTrip(t *testing.T) {
	c := NewCacheWithTTL(50*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	gen := Generation{Key: bytes.Repeat([]byte{1}, 32), Salt: bytes.Repeat([]byte{2}, 12)}
	c.Put(leafA, "mic", 5, 0, gen)

	got, ok := c.Get(leafA, "mic", 5, 0)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !bytes.Equal(got.Key, gen.Key) {
		t.Fatal("unexpected cached key")
	}
}

func TestCacheMissUnknownKey(t *testing.T) {
	c := NewCacheWithTTL(50*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	if _, ok := c.Get(leafA, "mic", 1, 0); ok {
		t.Fatal("expected cache miss for unseeded key")
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := NewCacheWithTTL(20*time.Millisecond, 5*time.Millisecond)
	defer c.Close()

	c.Put(leafA, "mic", 1, 0, Generation{Key: bytes.Repeat([]byte{9}, 32), Salt: bytes.Repeat([]byte{8}, 12)})

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get(leafA, "mic", 1, 0); ok {
		t.Fatal("expected entry to have expired")
	}
}

// TestCacheDoesNotCollideAcrossSenders guards against a regression where
// two members publishing on the same track label in the same epoch (the
// wire-level disambiguator is the per-pubkey transport path, not the
// label) would overwrite each other's cached generation.
func TestCacheDoesNotCollideAcrossSenders(t *testing.T) {
	c := NewCacheWithTTL(50*time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	genA := Generation{Key: bytes.Repeat([]byte{1}, 32), Salt: bytes.Repeat([]byte{2}, 12)}
	genB := Generation{Key: bytes.Repeat([]byte{3}, 32), Salt: bytes.Repeat([]byte{4}, 12)}

	c.Put(leafA, "mic", 5, 0, genA)
	c.Put(leafB, "mic", 5, 0, genB)

	gotA, ok := c.Get(leafA, "mic", 5, 0)
	if !ok || !bytes.Equal(gotA.Key, genA.Key) {
		t.Fatal("expected sender A's own generation, not sender B's")
	}
	gotB, ok := c.Get(leafB, "mic", 5, 0)
	if !ok || !bytes.Equal(gotB.Key, genB.Key) {
		t.Fatal("expected sender B's own generation, not sender A's")
	}
}
