// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("gazette edition 1042"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "0f893aceb21aeabe3fac007fec5e63fbad045959f52e959fd4b970412c9985c3"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("gazette edition 1042"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}
