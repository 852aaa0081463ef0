package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/logging"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
)

// Run-level failure messages.
const (
	MsgNoSources       = "No sources enabled"
	MsgAllSourcesFail  = "Discovery failed for every enabled source"
	MsgDispatchFailure = "Failed to dispatch crawl instructions"
	MsgSettingsFailure = "Failed to load source settings"
)

// Sender enqueues a message under an ordering key.
type Sender interface {
	Send(ctx context.Context, key string, msg any) error
}

// Adapters resolves the adapter for a source.
type Adapters interface {
	Get(source ingest.Source) (adapter.Adapter, error)
}

// Config tunes discovery.
type Config struct {
	// MaxConcurrentSources bounds parallel discovery; <= 0 means unbounded.
	MaxConcurrentSources int
}

// Coordinator processes run requests.
type Coordinator struct {
	backends  ingest.Backends
	settings  ingest.SettingsStore
	adapters  Adapters
	crawl     Sender
	finalizer *Finalizer
	clock     ingest.Clock
	cfg       Config
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New constructs a Coordinator.
func New(
	backends ingest.Backends,
	settings ingest.SettingsStore,
	adapters Adapters,
	crawl Sender,
	finalizer *Finalizer,
	clock ingest.Clock,
	cfg Config,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		backends:  backends,
		settings:  settings,
		adapters:  adapters,
		crawl:     crawl,
		finalizer: finalizer,
		clock:     clock,
		cfg:       cfg,
		emitter:   emitter,
		logger:    logger.Named("coordinator"),
	}
}

// Handle decodes a RunRequest body and processes it.
func (c *Coordinator) Handle(ctx context.Context, body []byte) error {
	var req ingest.RunRequest
	if err := ingest.Decode(body, &req); err != nil {
		return err
	}
	return c.Process(ctx, req)
}

type sourceResult struct {
	setting ingest.SourceSetting
	result  ingest.DiscoverResult
	err     error
}

// Process moves a pending run through initialization into ingesting. A
// returned error asks for redelivery; run-level failures are recorded on
// the run instead.
func (c *Coordinator) Process(ctx context.Context, req ingest.RunRequest) error {
	stores := c.backends.For(req.Flags)
	logger := logging.Run(c.logger, req.RunID, req.OwnerID)

	run, err := stores.Runs.GetRun(ctx, req.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		logger.Info("run already terminal", zap.String("status", string(run.Status)))
		return nil
	}
	if run.Status == ingest.RunStatusIngesting {
		return c.resume(ctx, stores, run, logger)
	}
	now := c.clock.Now()
	started, err := stores.Runs.StartRun(ctx, run.ID, now)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if !started {
		return nil
	}
	metrics.ObserveRunTransition(string(ingest.RunStatusInitializing))
	c.emitter.Emit(progress.Event{RunID: run.ID, TS: now, Stage: progress.StageRunStart})

	settings, err := c.settings.EnabledSettings(ctx, run.OwnerID)
	if err != nil {
		logger.Error("load source settings", zap.Error(err))
		return c.fail(ctx, stores, run.ID, MsgSettingsFailure)
	}
	if len(settings) == 0 {
		return c.fail(ctx, stores, run.ID, MsgNoSources)
	}

	results := c.discover(ctx, settings)
	instructions, summary := c.reconcile(ctx, stores, run, results, logger)
	if len(summary.SourceErrors) == len(settings) {
		if err := stores.Runs.RecordDiscovery(ctx, run.ID, summary); err != nil {
			logger.Warn("record discovery", zap.Error(err))
		}
		return c.fail(ctx, stores, run.ID, MsgAllSourcesFail)
	}

	failed := make([]ingest.Source, 0, len(summary.SourceErrors))
	for source := range summary.SourceErrors {
		failed = append(failed, source)
	}
	expired, err := stores.Postings.ExpireStale(ctx, run.OwnerID, run.ID, failed, c.clock.Now())
	if err != nil {
		return fmt.Errorf("expire stale postings: %w", err)
	}
	summary.Expired = expired
	if err := stores.Runs.RecordDiscovery(ctx, run.ID, summary); err != nil {
		return fmt.Errorf("record discovery: %w", err)
	}
	logger.Info("discovery complete",
		zap.Int("jobs", summary.Total),
		zap.Int("expired", expired),
		zap.Int("failed_sources", len(failed)),
	)

	current, err := stores.Runs.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if current.Status == ingest.RunStatusAborted {
		logger.Info("run aborted during initialization")
		return nil
	}

	ingesting, err := stores.Runs.BeginIngesting(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("begin ingesting: %w", err)
	}
	if !ingesting {
		logger.Info("run left initializing concurrently")
		return nil
	}
	metrics.ObserveRunTransition(string(ingest.RunStatusIngesting))
	c.emitter.Emit(progress.Event{
		RunID: run.ID,
		TS:    c.clock.Now(),
		Stage: progress.StageIngesting,
		Count: len(instructions),
	})

	if len(instructions) == 0 {
		if _, err := c.finalizer.TryFinalize(ctx, stores, run.ID); err != nil {
			return fmt.Errorf("finalize empty run: %w", err)
		}
		return nil
	}
	for _, instr := range instructions {
		if err := c.crawl.Send(ctx, string(instr.Source), instr); err != nil {
			logger.Error("dispatch crawl instruction",
				zap.String("source", string(instr.Source)),
				zap.String("external_id", instr.ExternalID),
				zap.Error(err),
			)
			return c.fail(ctx, stores, run.ID, MsgDispatchFailure)
		}
	}
	return nil
}

// resume re-sends crawl instructions for the run's outstanding postings so a
// dispatch interrupted after BeginIngesting still completes. The crawl worker
// absorbs the duplicates.
func (c *Coordinator) resume(ctx context.Context, stores ingest.Stores, run ingest.Run, logger *zap.Logger) error {
	postings, err := stores.Postings.ListByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list run postings: %w", err)
	}
	resent := 0
	for _, p := range postings {
		outstanding := p.Status == ingest.PostingStatusPending ||
			(p.Status == ingest.PostingStatusReady && p.AwaitingParse)
		if !outstanding {
			continue
		}
		instr := ingest.CrawlInstruction{
			OwnerID:    run.OwnerID,
			RunID:      run.ID,
			Source:     p.Source,
			ExternalID: p.ExternalID,
			URL:        p.URL,
			Flags:      run.Flags,
		}
		if err := c.crawl.Send(ctx, string(p.Source), instr); err != nil {
			return fmt.Errorf("redispatch crawl instruction: %w", err)
		}
		resent++
	}
	logger.Info("resumed ingesting run", zap.Int("resent", resent))
	if resent == 0 {
		if _, err := c.finalizer.TryFinalize(ctx, stores, run.ID); err != nil {
			return fmt.Errorf("finalize resumed run: %w", err)
		}
	}
	return nil
}

// discover lists every source concurrently. A failing source yields an
// error-tagged result and never cancels the others.
func (c *Coordinator) discover(ctx context.Context, settings []ingest.SourceSetting) []sourceResult {
	results := make([]sourceResult, len(settings))
	var g errgroup.Group
	if c.cfg.MaxConcurrentSources > 0 {
		g.SetLimit(c.cfg.MaxConcurrentSources)
	}
	for i, setting := range settings {
		g.Go(func() error {
			results[i] = sourceResult{setting: setting}
			a, err := c.adapters.Get(setting.Source)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].result, results[i].err = a.Discover(ctx, setting.Filter)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reconcile upserts each successful source's postings and builds the crawl
// instructions. Failed sources are collected in the summary.
func (c *Coordinator) reconcile(
	ctx context.Context,
	stores ingest.Stores,
	run ingest.Run,
	results []sourceResult,
	logger *zap.Logger,
) ([]ingest.CrawlInstruction, ingest.Discovery) {
	summary := ingest.Discovery{SourceErrors: make(map[ingest.Source]string)}
	var instructions []ingest.CrawlInstruction
	for _, r := range results {
		source := r.setting.Source
		if r.err != nil {
			c.sourceFailed(run.ID, source, r.err, logger)
			summary.SourceErrors[source] = adapter.UserMessage(r.err)
			continue
		}
		postings, err := stores.Postings.UpsertDiscovered(ctx, run.OwnerID, run.ID, source, r.result.Jobs, c.clock.Now())
		if err != nil {
			err = fmt.Errorf("store discovered postings: %w", err)
			c.sourceFailed(run.ID, source, err, logger)
			summary.SourceErrors[source] = ingest.Truncate(err.Error(), ingest.MaxErrorLength)
			continue
		}
		metrics.ObserveDiscovery(string(source), len(postings), nil)
		c.emitter.Emit(progress.Event{
			RunID:  run.ID,
			TS:     c.clock.Now(),
			Stage:  progress.StageDiscovered,
			Source: source,
			Count:  len(postings),
		})
		logger.Info("source discovered",
			zap.String("source", string(source)),
			zap.Int("total", r.result.TotalCount),
			zap.Int("filtered", r.result.FilteredCount),
			zap.Int("kept", len(postings)),
		)
		summary.Total += len(postings)
		for _, p := range postings {
			instructions = append(instructions, ingest.CrawlInstruction{
				OwnerID:    run.OwnerID,
				RunID:      run.ID,
				Source:     source,
				ExternalID: p.ExternalID,
				URL:        p.URL,
				Flags:      run.Flags,
			})
		}
	}
	return instructions, summary
}

func (c *Coordinator) sourceFailed(runID string, source ingest.Source, err error, logger *zap.Logger) {
	metrics.ObserveDiscovery(string(source), 0, err)
	c.emitter.Emit(progress.Event{
		RunID:  runID,
		TS:     c.clock.Now(),
		Stage:  progress.StageDiscovered,
		Source: source,
		Note:   adapter.UserMessage(err),
	})
	logger.Warn("source discovery failed",
		zap.String("source", string(source)),
		zap.String("kind", string(adapter.Classify(err))),
		zap.Error(err),
	)
}

// fail records a run-level failure. Losing the race to a terminal status is
// not an error.
func (c *Coordinator) fail(ctx context.Context, stores ingest.Stores, runID, message string) error {
	now := c.clock.Now()
	ok, err := stores.Runs.FailRun(ctx, runID, message, now)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if ok {
		metrics.ObserveRunTransition(string(ingest.RunStatusError))
		c.emitter.Emit(progress.Event{RunID: runID, TS: now, Stage: progress.StageRunError, Note: message})
		c.logger.Warn("run failed", zap.String("run_id", runID), zap.String("reason", message))
	}
	return nil
}
