package memory

import (
	"context"
	"testing"

	"github.com/presslane/edition-courier/internal/courier"
)

func TestBlobStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.Put(context.Background(), "2025/gazette/ed.pdf", "application/pdf", payload, map[string]string{"issue": "7"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "memory://2025/gazette/ed.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored := string(store.data["2025/gazette/ed.pdf"])
	if stored != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Tags("2025/gazette/ed.pdf")["issue"] != "7" {
		t.Fatalf("expected tags to be recorded")
	}
}

func TestBlobStoreGetMiss(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.Get(context.Background(), "missing"); err != courier.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	exists, err := store.Exists(context.Background(), "missing")
	if err != nil || exists {
		t.Fatalf("expected miss, got exists=%v err=%v", exists, err)
	}
}
