package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

var _ ingest.IDGenerator = (*Generator)(nil)

// TestGeneratorNewID ensures generated IDs are unique, time-ordered v7 UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if id2 <= id1 {
		t.Fatalf("expected %s to sort after %s", id2, id1)
	}
}
