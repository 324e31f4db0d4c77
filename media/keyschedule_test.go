package media

import (
	"bytes"
	"testing"
)

type fakeExporter struct {
	secret []byte
	err    error
}

func (f fakeExporter) ExportSecret(groupID, label string, context []byte, length int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, length)
	copy(out, f.secret)
	return out, nil
}

func TestBaseKeyDeterministic(t *testing.T) {
	exp := fakeExporter{secret: bytes.Repeat([]byte{0x42}, 32)}

	a, err := BaseKey(exp, "group-1", []byte("leaf-a"), "mic", 3)
	if err != nil {
		t.Fatalf("derive base key: %v", err)
	}
	b, err := BaseKey(exp, "group-1", []byte("leaf-a"), "mic", 3)
	if err != nil {
		t.Fatalf("derive base key: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic base key for identical inputs")
	}

	c, err := BaseKey(exp, "group-1", []byte("leaf-a"), "mic", 4)
	if err != nil {
		t.Fatalf("derive base key: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("expected different epochs to yield different base keys")
	}
}

func TestDeriveGenerationDistinctPerGeneration(t *testing.T) {
	base := bytes.Repeat([]byte{0x07}, 32)

	g0, err := DeriveGeneration(base, 0)
	if err != nil {
		t.Fatalf("derive gen 0: %v", err)
	}
	g1, err := DeriveGeneration(base, 1)
	if err != nil {
		t.Fatalf("derive gen 1: %v", err)
	}

	if bytes.Equal(g0.Key, g1.Key) || bytes.Equal(g0.Salt, g1.Salt) {
		t.Fatal("expected distinct key/salt per generation")
	}
	if len(g0.Key) != 32 || len(g0.Salt) != 12 {
		t.Fatalf("unexpected key/salt lengths: %d/%d", len(g0.Key), len(g0.Salt))
	}
}

func TestGenerationOf(t *testing.T) {
	if got := GenerationOf(0x02000101); got != 0x02 {
		t.Fatalf("got generation %d, want 2", got)
	}
	if got := GenerationOf(0x000000ff); got != 0 {
		t.Fatalf("got generation %d, want 0", got)
	}
}

func TestNonceWorkedExample(t *testing.T) {
	salt := make([]byte, 12)
	got := Nonce(salt, 0x00000101)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestNonceDiffersAcrossCounters(t *testing.T) {
	salt := bytes.Repeat([]byte{0xaa}, 12)
	n1 := Nonce(salt, 1)
	n2 := Nonce(salt, 2)
	if bytes.Equal(n1, n2) {
		t.Fatal("expected distinct nonces for distinct counters")
	}
}
