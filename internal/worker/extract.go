package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
)

// MsgLoadFailure is stored on a posting whose raw content cannot be read.
const MsgLoadFailure = "Failed to load raw content"

// Extractor parses stored raw content into description and requirements.
type Extractor struct {
	backends  ingest.Backends
	adapters  Adapters
	blobs     ingest.BlobStore
	finalizer Finalizer
	clock     ingest.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(
	backends ingest.Backends,
	adapters Adapters,
	blobs ingest.BlobStore,
	finalizer Finalizer,
	clock ingest.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Extractor {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		backends:  backends,
		adapters:  adapters,
		blobs:     blobs,
		finalizer: finalizer,
		clock:     clock,
		emitter:   emitter,
		logger:    logger.Named("extract"),
	}
}

// Handle implements Handler.
func (e *Extractor) Handle(ctx context.Context, body []byte) error {
	var instr ingest.ExtractInstruction
	if err := ingest.Decode(body, &instr); err != nil {
		return err
	}
	return e.Process(ctx, instr)
}

// Process parses one posting. Every terminal path tries to finalize the run.
func (e *Extractor) Process(ctx context.Context, instr ingest.ExtractInstruction) error {
	stores := e.backends.For(instr.Flags)
	logger := e.logger.With(
		zap.String("run_id", instr.RunID),
		zap.String("posting_id", instr.PostingID),
		zap.String("source", string(instr.Source)),
	)

	run, err := stores.Runs.GetRun(ctx, instr.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status == ingest.RunStatusAborted {
		return fmt.Errorf("run %s: %w", run.ID, ingest.ErrRunAborted)
	}
	if run.Status.Terminal() {
		logger.Debug("run is terminal, skipping", zap.String("status", string(run.Status)))
		return nil
	}
	// A missing posting is retried until the delivery limit dead-letters it.
	posting, err := stores.Postings.GetPosting(ctx, instr.PostingID)
	if err != nil {
		return fmt.Errorf("load posting: %w", err)
	}
	if posting.RunID != instr.RunID || posting.Status != ingest.PostingStatusReady || !posting.AwaitingParse {
		return e.finalize(ctx, stores, instr.RunID, logger)
	}

	raw, err := e.blobs.GetObject(ctx, instr.RawContentURI)
	if err != nil {
		logger.Error("load raw content", zap.String("uri", instr.RawContentURI), zap.Error(err))
		return e.fail(ctx, stores, instr, MsgLoadFailure, logger)
	}
	a, err := e.adapters.Get(instr.Source)
	if err != nil {
		logger.Error("no adapter", zap.Error(err))
		return e.fail(ctx, stores, instr, MsgNoAdapter, logger)
	}
	content, err := a.Parse(raw)
	if err != nil {
		logger.Warn("parse failed", zap.Error(err))
		return e.fail(ctx, stores, instr, parseMessage(err), logger)
	}

	if err := checkAborted(ctx, stores.Runs, instr.RunID); err != nil {
		return err
	}
	if err := stores.Postings.MarkParsed(ctx, instr.PostingID, content, e.clock.Now()); err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	e.observe(instr, progress.OutcomeParsed, "")
	return e.finalize(ctx, stores, instr.RunID, logger)
}

// parseMessage keeps the reason of a structural failure and classifies
// anything else.
func parseMessage(err error) string {
	var parseErr *ingest.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Error()
	}
	return adapter.UserMessage(err)
}

func (e *Extractor) fail(
	ctx context.Context,
	stores ingest.Stores,
	instr ingest.ExtractInstruction,
	message string,
	logger *zap.Logger,
) error {
	if err := checkAborted(ctx, stores.Runs, instr.RunID); err != nil {
		return err
	}
	if err := stores.Postings.MarkFailed(ctx, instr.PostingID, message, e.clock.Now()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	e.observe(instr, progress.OutcomeFailed, message)
	return e.finalize(ctx, stores, instr.RunID, logger)
}

func (e *Extractor) finalize(ctx context.Context, stores ingest.Stores, runID string, logger *zap.Logger) error {
	if _, err := e.finalizer.TryFinalize(ctx, stores, runID); err != nil {
		logger.Error("finalize run", zap.Error(err))
		return err
	}
	return nil
}

func (e *Extractor) observe(instr ingest.ExtractInstruction, outcome progress.Outcome, note string) {
	metrics.ObserveExtract(string(instr.Source), string(outcome))
	e.emitter.Emit(progress.Event{
		RunID:     instr.RunID,
		TS:        e.clock.Now(),
		Stage:     progress.StageExtracted,
		Source:    instr.Source,
		PostingID: instr.PostingID,
		Outcome:   outcome,
		Note:      note,
	})
}
