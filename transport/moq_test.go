package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestPathHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writePathHeader(&buf, "marmot/abcd/wrappers/02beef"); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readPathHeader(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "marmot/abcd/wrappers/02beef" {
		t.Fatalf("got %q", got)
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("opaque wrapper bytes")
	if err := writeLengthPrefixed(&buf, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readLengthPrefixed(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	d := backoffMin
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != backoffMax {
		t.Fatalf("expected backoff to cap at %v, got %v", backoffMax, d)
	}
}

func TestMoQBridgeReadyClosesOnSignal(t *testing.T) {
	b := NewMoQBridge("https://127.0.0.1:0", "marmot/test", nil)

	select {
	case <-b.Ready():
		t.Fatal("expected Ready to be open before any dial or grace timer")
	default:
	}

	b.signalReady()

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("expected Ready to close after signalReady")
	}
}
