package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/google/123.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://raw/google/123.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'

	got, err := store.GetObject(context.Background(), uri)
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
}

func TestBlobStoreGetObjectErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.GetObject(context.Background(), "gs://bucket/raw.html"); err == nil {
		t.Fatal("expected error for foreign scheme")
	}
	if _, err := store.GetObject(context.Background(), "memory://missing.html"); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := store.PutObject(context.Background(), " ", "", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
