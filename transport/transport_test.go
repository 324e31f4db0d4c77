package transport

import "testing"

func TestWrapperPath(t *testing.T) {
	got := WrapperPath("marmot/abcd", "02beef")
	want := "marmot/abcd/wrappers/02beef"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAudioPath(t *testing.T) {
	got := AudioPath("marmot/abcd", "02beef", "mic")
	want := "marmot/abcd/audio/02beef/mic"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
