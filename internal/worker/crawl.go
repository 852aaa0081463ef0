package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/breaker"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
	"github.com/JakeFAU/jobs-ingest/internal/simhash"
)

// Posting failure messages that do not come from an upstream site.
const (
	MsgStoreFailure    = "Failed to store raw content"
	MsgDispatchFailure = "Failed to dispatch extraction"
	MsgNoAdapter       = "No extraction adapter for source"
)

// Adapters resolves the adapter for a source.
type Adapters interface {
	Get(source ingest.Source) (adapter.Adapter, error)
}

// Sender enqueues a message under an ordering key.
type Sender interface {
	Send(ctx context.Context, key string, msg any) error
}

// Finalizer closes out a run once nothing is outstanding.
type Finalizer interface {
	TryFinalize(ctx context.Context, stores ingest.Stores, runID string) (bool, error)
}

// Limiter paces requests per source.
type Limiter interface {
	Wait(ctx context.Context, source ingest.Source) error
}

// CrawlConfig tunes the crawl handler.
type CrawlConfig struct {
	Attempts            int
	RetryDelay          time.Duration
	FetchTimeout        time.Duration
	Interval            time.Duration
	SimilarityThreshold int
	ContentType         string
}

func (c CrawlConfig) withDefaults() CrawlConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = simhash.DefaultThreshold
	}
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	return c
}

// Crawler fetches one posting per crawl instruction, skips unchanged
// content, stores the rest and queues it for extraction.
type Crawler struct {
	backends  ingest.Backends
	adapters  Adapters
	blobs     ingest.BlobStore
	breaker   *breaker.Breaker
	limiter   Limiter
	extract   Sender
	finalizer Finalizer
	clock     ingest.Clock
	cfg       CrawlConfig
	emitter   progress.Emitter
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewCrawler constructs a Crawler. limiter may be nil.
func NewCrawler(
	backends ingest.Backends,
	adapters Adapters,
	blobs ingest.BlobStore,
	brk *breaker.Breaker,
	limiter Limiter,
	extract Sender,
	finalizer Finalizer,
	clock ingest.Clock,
	cfg CrawlConfig,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Crawler {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		backends:  backends,
		adapters:  adapters,
		blobs:     blobs,
		breaker:   brk,
		limiter:   limiter,
		extract:   extract,
		finalizer: finalizer,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		emitter:   emitter,
		logger:    logger.Named("crawl"),
		sleep:     sleep,
	}
}

// Handle implements Handler.
func (c *Crawler) Handle(ctx context.Context, body []byte) error {
	var instr ingest.CrawlInstruction
	if err := ingest.Decode(body, &instr); err != nil {
		return err
	}
	return c.Process(ctx, instr)
}

// Process runs one crawl instruction. Every step is safe to repeat.
func (c *Crawler) Process(ctx context.Context, instr ingest.CrawlInstruction) error {
	stores := c.backends.For(instr.Flags)
	logger := c.logger.With(
		zap.String("run_id", instr.RunID),
		zap.String("source", string(instr.Source)),
		zap.String("external_id", instr.ExternalID),
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
	posting, err := stores.Postings.FindPosting(ctx, instr.OwnerID, instr.Source, instr.ExternalID)
	if err != nil {
		return fmt.Errorf("load posting: %w", err)
	}
	logger = logger.With(zap.String("posting_id", posting.ID))
	if posting.RunID != instr.RunID {
		logger.Info("posting belongs to a newer run, skipping")
		return c.finalize(ctx, stores, instr.RunID, logger)
	}
	if posting.Status == ingest.PostingStatusReady && posting.AwaitingParse {
		// Fetched before a crash that may have lost the extract instruction.
		if err := c.sendExtract(ctx, instr, posting.ID, posting.RawContentURI); err != nil {
			logger.Error("redispatch extract instruction", zap.Error(err))
			return c.settle(ctx, stores, instr, posting, MsgDispatchFailure, progress.OutcomeFailed, logger)
		}
		logger.Debug("extract instruction re-sent")
		return nil
	}
	if posting.Status != ingest.PostingStatusPending {
		// Redelivery of an instruction that already settled.
		return c.finalize(ctx, stores, instr.RunID, logger)
	}

	open, err := c.breaker.Open(ctx, stores.Runs, instr.RunID, instr.Source)
	if err != nil {
		return err
	}
	if open {
		metrics.ObserveBreakerShortCircuit(string(instr.Source))
		return c.settle(ctx, stores, instr, posting, breaker.OpenMessage, progress.OutcomeBreakerOpen, logger)
	}

	a, err := c.adapters.Get(instr.Source)
	if err != nil {
		logger.Error("no adapter", zap.Error(err))
		return c.settle(ctx, stores, instr, posting, MsgNoAdapter, progress.OutcomeFailed, logger)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, instr.Source); err != nil {
			return err
		}
	}
	defer c.pause(ctx)

	start := c.clock.Now()
	content, err := c.fetch(ctx, a, instr.URL, logger)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.recordFailure(ctx, stores, instr, logger)
		logger.Warn("fetch failed", zap.String("kind", string(adapter.Classify(err))), zap.Error(err))
		return c.settle(ctx, stores, instr, posting, adapter.UserMessage(err), progress.OutcomeFailed, logger)
	}
	fetchDur := c.clock.Now().Sub(start)

	if err := checkAborted(ctx, stores.Runs, instr.RunID); err != nil {
		return err
	}

	fingerprint := simhash.Fingerprint(string(content))
	if !instr.Flags.Force && simhash.IsSimilar(posting.Fingerprint, fingerprint, c.cfg.SimilarityThreshold) {
		if err := stores.Postings.MarkSkipped(ctx, posting.ID, fingerprint, c.clock.Now()); err != nil {
			return fmt.Errorf("mark skipped: %w", err)
		}
		c.observe(instr, posting.ID, progress.OutcomeSkipped, int64(len(content)), fetchDur, "")
		logger.Debug("content unchanged")
		return c.finalize(ctx, stores, instr.RunID, logger)
	}

	uri, err := c.blobs.PutObject(ctx, RawContentPath(instr.Source, instr.ExternalID), c.cfg.ContentType, content)
	if err != nil {
		c.recordFailure(ctx, stores, instr, logger)
		logger.Error("store raw content", zap.Error(err))
		return c.settle(ctx, stores, instr, posting, MsgStoreFailure, progress.OutcomeFailed, logger)
	}
	if err := stores.Postings.MarkFetched(ctx, posting.ID, fingerprint, uri, c.clock.Now()); err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	if err := c.sendExtract(ctx, instr, posting.ID, uri); err != nil {
		logger.Error("dispatch extract instruction", zap.Error(err))
		return c.settle(ctx, stores, instr, posting, MsgDispatchFailure, progress.OutcomeFailed, logger)
	}
	c.observe(instr, posting.ID, progress.OutcomeFetched, int64(len(content)), fetchDur, "")
	logger.Debug("posting fetched", zap.String("uri", uri), zap.Int("bytes", len(content)))
	return nil
}

func (c *Crawler) sendExtract(ctx context.Context, instr ingest.CrawlInstruction, postingID, uri string) error {
	return c.extract.Send(ctx, string(instr.Source), ingest.ExtractInstruction{
		RunID:         instr.RunID,
		PostingID:     postingID,
		Source:        instr.Source,
		RawContentURI: uri,
		Flags:         instr.Flags,
	})
}

// fetch calls the adapter with a bounded number of attempts and a fixed
// delay between them.
func (c *Crawler) fetch(ctx context.Context, a adapter.Adapter, url string, logger *zap.Logger) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		content, err := a.FetchContent(fetchCtx, url)
		cancel()
		if err == nil {
			return content, nil
		}
		lastErr = err
		logger.Debug("fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < c.cfg.Attempts {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("retry wait: %w", err)
			}
		}
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", url, c.cfg.Attempts, lastErr)
}

// settle marks the posting failed and tries to finalize the run.
func (c *Crawler) settle(
	ctx context.Context,
	stores ingest.Stores,
	instr ingest.CrawlInstruction,
	posting ingest.Posting,
	message string,
	outcome progress.Outcome,
	logger *zap.Logger,
) error {
	if err := checkAborted(ctx, stores.Runs, instr.RunID); err != nil {
		return err
	}
	if err := stores.Postings.MarkFailed(ctx, posting.ID, message, c.clock.Now()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	c.observe(instr, posting.ID, outcome, 0, 0, message)
	return c.finalize(ctx, stores, instr.RunID, logger)
}

func (c *Crawler) recordFailure(ctx context.Context, stores ingest.Stores, instr ingest.CrawlInstruction, logger *zap.Logger) {
	if _, err := c.breaker.RecordFailure(ctx, stores.Runs, instr.RunID, instr.Source); err != nil {
		logger.Error("record source failure", zap.Error(err))
	}
}

func (c *Crawler) finalize(ctx context.Context, stores ingest.Stores, runID string, logger *zap.Logger) error {
	if _, err := c.finalizer.TryFinalize(ctx, stores, runID); err != nil {
		logger.Error("finalize run", zap.Error(err))
		return err
	}
	return nil
}

func (c *Crawler) observe(
	instr ingest.CrawlInstruction,
	postingID string,
	outcome progress.Outcome,
	size int64,
	dur time.Duration,
	note string,
) {
	metrics.ObserveCrawl(string(instr.Source), string(outcome))
	c.emitter.Emit(progress.Event{
		RunID:     instr.RunID,
		TS:        c.clock.Now(),
		Stage:     progress.StageCrawled,
		Source:    instr.Source,
		PostingID: postingID,
		Outcome:   outcome,
		Bytes:     size,
		Dur:       dur,
		Note:      note,
	})
}

// pause holds the worker for the configured interval after touching a
// source so its request rate stays bounded regardless of queue throughput.
func (c *Crawler) pause(ctx context.Context) {
	_ = c.sleep(ctx, c.cfg.Interval)
}

// RawContentPath is the object key for a posting's raw page.
func RawContentPath(source ingest.Source, externalID string) string {
	flat := strings.NewReplacer("/", "_", `\`, "_").Replace(externalID)
	return "raw/" + string(source) + "/" + flat + ".html"
}
