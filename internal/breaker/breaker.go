// Package breaker short-circuits fetches against a source that keeps failing
// within one run.
package breaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// DefaultThreshold is the number of recorded failures that opens the breaker.
const DefaultThreshold = 5

// OpenMessage is persisted on postings short-circuited by an open breaker.
const OpenMessage = "Circuit breaker: too many failures"

// Counter holds one failure counter per (run, source). ingest.RunStore
// satisfies it.
type Counter interface {
	SourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error)
	IncrementSourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error)
}

// Breaker decides whether a source may still be fetched within a run.
type Breaker struct {
	threshold int
	shared    Counter
	logger    *zap.Logger
}

// New builds a Breaker. When shared is nil the counter of the run's own
// store is used.
func New(threshold int, shared Counter, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{threshold: threshold, shared: shared, logger: logger}
}

// Threshold returns the failure count at which the breaker opens.
func (b *Breaker) Threshold() int {
	return b.threshold
}

// Open reports whether source has reached the threshold in runID.
func (b *Breaker) Open(ctx context.Context, runs Counter, runID string, source ingest.Source) (bool, error) {
	failures, err := b.counter(runs).SourceFailures(ctx, runID, source)
	if err != nil {
		return false, fmt.Errorf("read breaker counter: %w", err)
	}
	return failures >= b.threshold, nil
}

// RecordFailure increments the source's counter and returns the new value.
// With a shared counter the run's own counter is kept in step so the run
// record shows the failures too.
func (b *Breaker) RecordFailure(ctx context.Context, runs Counter, runID string, source ingest.Source) (int, error) {
	failures, err := b.counter(runs).IncrementSourceFailures(ctx, runID, source)
	if err != nil {
		return 0, fmt.Errorf("increment breaker counter: %w", err)
	}
	if b.shared != nil && runs != nil {
		if _, err := runs.IncrementSourceFailures(ctx, runID, source); err != nil {
			b.logger.Warn("mirror source failure onto run",
				zap.String("run_id", runID),
				zap.String("source", string(source)),
				zap.Error(err),
			)
		}
	}
	if failures == b.threshold {
		b.logger.Warn("circuit breaker opened",
			zap.String("run_id", runID),
			zap.String("source", string(source)),
			zap.Int("failures", failures),
		)
	}
	return failures, nil
}

func (b *Breaker) counter(runs Counter) Counter {
	if b.shared != nil {
		return b.shared
	}
	return runs
}
