package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageDiscovered Stage = "DISCOVERED"
	StageIngesting  Stage = "INGESTING"
	StageCrawled    Stage = "CRAWLED"
	StageExtracted  Stage = "EXTRACTED"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageRunAborted Stage = "RUN_ABORTED"
)

// Outcome describes how one posting left a stage.
type Outcome string

// Posting outcomes reported with StageCrawled and StageExtracted.
const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
	OutcomeBreakerOpen Outcome = "breaker_open"
	OutcomeParsed      Outcome = "parsed"
)

// Event captures a single milestone of a run.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Source scopes discovery and posting events.
	Source    ingest.Source
	PostingID string
	Outcome   Outcome
	// Count carries jobs discovered or postings enqueued.
	Count int
	// Bytes is the raw content size for fetched postings.
	Bytes int64
	// Dur captures fetch latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageIngesting, StageRunDone, StageRunError, StageRunAborted:
	case StageDiscovered:
		if e.Source == "" {
			return errors.New("discovered requires source")
		}
	case StageCrawled, StageExtracted:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
		if e.Outcome == "" {
			return fmt.Errorf("%s requires outcome", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
