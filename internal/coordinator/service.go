package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
)

// MsgRunDispatchFailure is recorded when a new run cannot be queued.
const MsgRunDispatchFailure = "Failed to dispatch run"

// ErrInvalidRequest marks caller mistakes such as a missing owner.
var ErrInvalidRequest = errors.New("invalid request")

// PostingProgress is one posting's state in a status breakdown.
type PostingProgress struct {
	ExternalID string               `json:"id"`
	Title      string               `json:"title"`
	Status     ingest.PostingStatus `json:"status"`
}

// Status is the run status surface.
type Status struct {
	Run ingest.Run `json:"run"`
	// Sources is only filled while the run is ingesting.
	Sources map[ingest.Source][]PostingProgress `json:"sources,omitempty"`
}

// Service triggers, aborts and reports on runs.
type Service struct {
	backends ingest.Backends
	runs     Sender
	ids      ingest.IDGenerator
	clock    ingest.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
}

// NewService constructs a Service. runs receives RunRequests for the
// coordinator pool.
func NewService(
	backends ingest.Backends,
	runs Sender,
	ids ingest.IDGenerator,
	clock ingest.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Service {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backends: backends,
		runs:     runs,
		ids:      ids,
		clock:    clock,
		emitter:  emitter,
		logger:   logger.Named("runs"),
	}
}

// Trigger creates a pending run for ownerID and queues it.
func (s *Service) Trigger(ctx context.Context, ownerID string, flags ingest.Flags) (ingest.Run, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ingest.Run{}, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	stores := s.backends.For(flags)
	run := ingest.Run{
		ID:        id,
		OwnerID:   ownerID,
		Status:    ingest.RunStatusPending,
		Flags:     flags,
		CreatedAt: s.clock.Now(),
	}
	if err := stores.Runs.CreateRun(ctx, run); err != nil {
		return ingest.Run{}, fmt.Errorf("create run: %w", err)
	}
	metrics.ObserveRunTransition(string(ingest.RunStatusPending))

	req := ingest.RunRequest{RunID: run.ID, OwnerID: ownerID, Flags: flags}
	if err := s.runs.Send(ctx, ownerID, req); err != nil {
		if _, failErr := stores.Runs.FailRun(ctx, run.ID, MsgRunDispatchFailure, s.clock.Now()); failErr != nil {
			s.logger.Error("fail undispatched run", zap.String("run_id", run.ID), zap.Error(failErr))
		}
		return ingest.Run{}, fmt.Errorf("dispatch run: %w", err)
	}
	s.logger.Info("run triggered", zap.String("run_id", run.ID), zap.String("owner_id", ownerID))
	return run, nil
}

// Abort flips a non-terminal run to aborted. In-flight work observes the
// status and stops writing.
func (s *Service) Abort(ctx context.Context, runID string) (ingest.Run, error) {
	run, stores, err := s.lookup(ctx, runID)
	if err != nil {
		return ingest.Run{}, err
	}
	now := s.clock.Now()
	aborted, err := stores.Runs.AbortRun(ctx, runID, now)
	if err != nil {
		return ingest.Run{}, fmt.Errorf("abort run: %w", err)
	}
	if aborted {
		metrics.ObserveRunTransition(string(ingest.RunStatusAborted))
		s.emitter.Emit(progress.Event{RunID: runID, TS: now, Stage: progress.StageRunAborted})
		s.logger.Info("run aborted", zap.String("run_id", runID), zap.String("from", string(run.Status)))
	}
	return stores.Runs.GetRun(ctx, runID)
}

// Status returns the run plus a per-source posting breakdown while it is
// ingesting.
func (s *Service) Status(ctx context.Context, runID string) (Status, error) {
	run, stores, err := s.lookup(ctx, runID)
	if err != nil {
		return Status{}, err
	}
	status := Status{Run: run}
	if run.Status != ingest.RunStatusIngesting {
		return status, nil
	}
	postings, err := stores.Postings.ListByRun(ctx, runID)
	if err != nil {
		return Status{}, fmt.Errorf("list postings: %w", err)
	}
	status.Sources = make(map[ingest.Source][]PostingProgress)
	for _, p := range postings {
		status.Sources[p.Source] = append(status.Sources[p.Source], PostingProgress{
			ExternalID: p.ExternalID,
			Title:      p.Title,
			Status:     p.Status,
		})
	}
	return status, nil
}

// lookup finds runID in the primary stores, then the alternate ones.
func (s *Service) lookup(ctx context.Context, runID string) (ingest.Run, ingest.Stores, error) {
	run, err := s.backends.Primary.Runs.GetRun(ctx, runID)
	if err == nil {
		return run, s.backends.Primary, nil
	}
	alt := s.backends.Alternate
	if !errors.Is(err, ingest.ErrNotFound) || alt.Runs == nil || alt.Postings == nil {
		return ingest.Run{}, ingest.Stores{}, fmt.Errorf("load run: %w", err)
	}
	run, err = alt.Runs.GetRun(ctx, runID)
	if err != nil {
		return ingest.Run{}, ingest.Stores{}, fmt.Errorf("load run: %w", err)
	}
	return run, alt, nil
}
