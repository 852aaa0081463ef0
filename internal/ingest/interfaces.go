package ingest

import (
	"context"
	"time"
)

// RunStore persists runs. Every transition is a conditional update that
// reports whether it took effect.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// StartRun moves pending (or a redelivered initializing) run to initializing.
	StartRun(ctx context.Context, runID string, at time.Time) (bool, error)
	RecordDiscovery(ctx context.Context, runID string, d Discovery) error
	// BeginIngesting moves initializing to ingesting.
	BeginIngesting(ctx context.Context, runID string) (bool, error)
	// FinishRun moves ingesting to finished and writes the final counts.
	FinishRun(ctx context.Context, runID string, counts Counts, at time.Time) (bool, error)
	FailRun(ctx context.Context, runID string, message string, at time.Time) (bool, error)
	AbortRun(ctx context.Context, runID string, at time.Time) (bool, error)
	IncrementSourceFailures(ctx context.Context, runID string, source Source) (int, error)
	SourceFailures(ctx context.Context, runID string, source Source) (int, error)
}

// PostingStore persists postings keyed by (owner, source, external id).
type PostingStore interface {
	UpsertDiscovered(
		ctx context.Context,
		ownerID string,
		runID string,
		source Source,
		jobs []DiscoveredJob,
		at time.Time,
	) ([]Posting, error)
	// ExpireStale expires the owner's postings not refreshed by runID, leaving
	// postings of the keep sources untouched.
	ExpireStale(ctx context.Context, ownerID, runID string, keep []Source, at time.Time) (int, error)
	GetPosting(ctx context.Context, postingID string) (Posting, error)
	FindPosting(ctx context.Context, ownerID string, source Source, externalID string) (Posting, error)
	MarkSkipped(ctx context.Context, postingID string, fingerprint uint64, at time.Time) error
	MarkFetched(ctx context.Context, postingID string, fingerprint uint64, rawURI string, at time.Time) error
	MarkParsed(ctx context.Context, postingID string, content ParsedContent, at time.Time) error
	MarkFailed(ctx context.Context, postingID string, message string, at time.Time) error
	CountByStatus(ctx context.Context, runID string) (Counts, error)
	ListByRun(ctx context.Context, runID string) ([]Posting, error)
}

// SettingsStore reads per-owner source settings.
type SettingsStore interface {
	EnabledSettings(ctx context.Context, ownerID string) ([]SourceSetting, error)
	OwnersWithEnabledSources(ctx context.Context) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI that GetObject accepts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, uri string) ([]byte, error)
}

// Fetcher executes one HTTP request.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides ordered, at-least-once delivery. Envelopes sharing a Key are
// handed out one at a time in enqueue order.
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Stores groups the record stores a run writes to.
type Stores struct {
	Runs     RunStore
	Postings PostingStore
}

// Backends routes a run to its primary or alternate stores.
type Backends struct {
	Primary   Stores
	Alternate Stores
}

// For returns the stores selected by flags, falling back to Primary when no
// alternate is configured.
func (b Backends) For(flags Flags) Stores {
	if flags.UseAltStorage && b.Alternate.Runs != nil && b.Alternate.Postings != nil {
		return b.Alternate
	}
	return b.Primary
}
