package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
)

// Finalizer closes out ingesting runs. It is safe to call redundantly and
// concurrently: the store's conditional update lets exactly one caller win.
type Finalizer struct {
	clock   ingest.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(clock ingest.Clock, emitter progress.Emitter, logger *zap.Logger) *Finalizer {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{clock: clock, emitter: emitter, logger: logger.Named("finalizer")}
}

// TryFinalize finishes runID when none of its postings are outstanding. It
// reports whether this call performed the transition.
func (f *Finalizer) TryFinalize(ctx context.Context, stores ingest.Stores, runID string) (bool, error) {
	counts, err := stores.Postings.CountByStatus(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("count postings: %w", err)
	}
	if counts.Pending > 0 {
		metrics.ObserveFinalize("pending")
		return false, nil
	}
	now := f.clock.Now()
	won, err := stores.Runs.FinishRun(ctx, runID, counts, now)
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}
	if !won {
		metrics.ObserveFinalize("noop")
		return false, nil
	}
	metrics.ObserveFinalize("finished")
	metrics.ObserveRunTransition(string(ingest.RunStatusFinished))

	evt := progress.Event{RunID: runID, TS: now, Stage: progress.StageRunDone}
	if run, err := stores.Runs.GetRun(ctx, runID); err == nil && run.StartedAt != nil {
		evt.Dur = now.Sub(*run.StartedAt)
	}
	f.emitter.Emit(evt)
	f.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("ready", counts.Ready),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed),
	)
	return true, nil
}
