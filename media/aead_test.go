package media

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptFrameRoundTrip(t *testing.T) {
	base := bytes.Repeat([]byte{0x11}, 32)
	gen, err := DeriveGeneration(base, 0)
	if err != nil {
		t.Fatalf("derive generation: %v", err)
	}

	aad := AAD("marmot/abcd", "mic", 3, 0, 0, true)
	plaintext := []byte("twenty milliseconds of opus")

	wire, err := EncryptFrame(gen, 0x00000000, plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	counter, got, err := DecryptFrame(gen, wire, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if counter != 0 {
		t.Fatalf("got counter %d, want 0", counter)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptFrameRejectsWrongAAD(t *testing.T) {
	base := bytes.Repeat([]byte{0x22}, 32)
	gen, err := DeriveGeneration(base, 0)
	if err != nil {
		t.Fatalf("derive generation: %v", err)
	}

	wire, err := EncryptFrame(gen, 1, []byte("hello"), AAD("g", "mic", 0, 0, 1, false))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, _, err := DecryptFrame(gen, wire, AAD("g", "mic", 0, 0, 2, false)); err == nil {
		t.Fatal("expected decrypt to fail under mismatched AAD")
	}
}

func TestDecryptFrameRejectsTruncatedWire(t *testing.T) {
	gen, _ := DeriveGeneration(bytes.Repeat([]byte{0x33}, 32), 0)
	if _, _, err := DecryptFrame(gen, []byte{0x01, 0x02}, nil); err == nil {
		t.Fatal("expected error for truncated wire frame")
	}
}

func TestAADDiffersByKeyframeFlag(t *testing.T) {
	a := AAD("g", "mic", 1, 0, 0, true)
	b := AAD("g", "mic", 1, 0, 0, false)
	if bytes.Equal(a, b) {
		t.Fatal("expected AAD to differ on keyframe flag")
	}
}
