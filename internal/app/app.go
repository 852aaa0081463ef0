// Package app builds the pipeline's long-lived services from configuration
// and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/adapter/sources"
	"github.com/JakeFAU/jobs-ingest/internal/api"
	"github.com/JakeFAU/jobs-ingest/internal/breaker"
	"github.com/JakeFAU/jobs-ingest/internal/clock/system"
	"github.com/JakeFAU/jobs-ingest/internal/config"
	"github.com/JakeFAU/jobs-ingest/internal/coordinator"
	"github.com/JakeFAU/jobs-ingest/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/jobs-ingest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/jobs-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/jobs-ingest/internal/id/uuid"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
	"github.com/JakeFAU/jobs-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/jobs-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/jobs-ingest/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/jobs-ingest/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/jobs-ingest/internal/queue/pubsub"
	"github.com/JakeFAU/jobs-ingest/internal/scheduler"
	gcsstorage "github.com/JakeFAU/jobs-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/jobs-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/jobs-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/jobs-ingest/internal/storage/postgres"
	"github.com/JakeFAU/jobs-ingest/internal/telemetry"
	"github.com/JakeFAU/jobs-ingest/internal/worker"
)

// DefaultPollInterval is how often Ingest re-reads the run status.
const DefaultPollInterval = time.Second

// closer releases one resource during shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	backends  ingest.Backends
	settings  ingest.SettingsStore
	registry  *adapter.Registry
	runs      *coordinator.Service
	pools     []*dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	migrators []func(ctx context.Context) error

	// closers run in reverse registration order.
	closers        []closer
	tracerProvider *sdktrace.TracerProvider

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Build creates the application's dependencies. Nothing consumes queues
// until Start, Serve or Ingest is called.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	metrics.Init()

	if err := app.build(ctx); err != nil {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerProvider = tp
	}

	a.logger.Info("building application dependencies")
	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	checks, err := a.setupDatabase(ctx, ids)
	if err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	runQueue, crawlQueue, extractQueue, err := a.setupQueues(ctx)
	if err != nil {
		return err
	}
	emitter := a.setupProgress()
	a.registry = a.setupAdapters()
	brk, err := a.setupBreaker(ctx)
	if err != nil {
		return err
	}

	finalizer := coordinator.NewFinalizer(clock, emitter, a.logger)
	poolCfg := func(name string) worker.Config {
		return worker.Config{Name: name, MaxDeliveries: a.cfg.Pipeline.MaxDeliveries}
	}

	extractor := worker.NewExtractor(a.backends, a.registry, blobs, finalizer, clock, emitter, a.logger)
	extractPool := dispatcher.Pool(extractQueue, extractor, a.cfg.Pipeline.ExtractWorkers, poolCfg("extract"), a.logger)

	crawler := worker.NewCrawler(
		a.backends,
		a.registry,
		blobs,
		brk,
		ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.Burst,
			PerSource:    a.cfg.PerSourceRPS(),
		}),
		extractPool,
		finalizer,
		clock,
		worker.CrawlConfig{
			Attempts:            a.cfg.Pipeline.FetchAttempts,
			RetryDelay:          a.cfg.Pipeline.RetryDelay,
			FetchTimeout:        a.cfg.HTTP.FetchTimeout,
			Interval:            a.cfg.Pipeline.RateLimitSleep,
			SimilarityThreshold: a.cfg.Pipeline.SimilarityThreshold,
			ContentType:         a.cfg.Storage.ContentType,
		},
		emitter,
		a.logger,
	)
	crawlPool := dispatcher.Pool(crawlQueue, crawler, a.cfg.Pipeline.CrawlWorkers, poolCfg("crawl"), a.logger)

	coord := coordinator.New(
		a.backends,
		a.settings,
		a.registry,
		crawlPool,
		finalizer,
		clock,
		coordinator.Config{MaxConcurrentSources: a.cfg.Pipeline.MaxConcurrentSources},
		emitter,
		a.logger,
	)
	runPool := dispatcher.Pool(runQueue, coord, a.cfg.Pipeline.CoordinatorWorkers, poolCfg("coordinator"), a.logger)
	a.pools = []*dispatcher.Dispatcher{runPool, crawlPool, extractPool}

	a.runs = coordinator.NewService(a.backends, runPool, ids, clock, emitter, a.logger)

	if a.cfg.Scheduler.Enabled {
		a.scheduler, err = scheduler.New(a.cfg.Scheduler.Spec, a.settings, a.runs, a.logger)
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(a.runs, a.registry.Sources(), a.settings, a.cfg.Auth, checks, a.logger)
	return nil
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupDatabase(ctx context.Context, ids ingest.IDGenerator) (map[string]api.Check, error) {
	checks := map[string]api.Check{}
	switch a.cfg.DB.Backend {
	case config.BackendPostgres:
		primary, err := a.openPostgres(ctx, "postgres", a.cfg.DB.DSN, ids)
		if err != nil {
			return nil, err
		}
		a.backends.Primary = ingest.Stores{Runs: primary, Postings: primary}
		a.settings = primary
		checks["postgres"] = primary.Ping
		if a.cfg.DB.AltDSN != "" {
			alt, err := a.openPostgres(ctx, "postgres_alt", a.cfg.DB.AltDSN, ids)
			if err != nil {
				return nil, err
			}
			a.backends.Alternate = ingest.Stores{Runs: alt, Postings: alt}
			checks["postgres_alt"] = alt.Ping
		}
	default:
		a.logger.Info("using in-memory run and posting store")
		store := memoryStorage.NewStore(ids, a.cfg.Settings())
		a.backends.Primary = ingest.Stores{Runs: store, Postings: store}
		a.settings = store
	}
	return checks, nil
}

func (a *App) openPostgres(ctx context.Context, name, dsn string, ids ingest.IDGenerator) (*pgstore.Store, error) {
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             dsn,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	}, ids)
	if err != nil {
		return nil, fmt.Errorf("%s store init failed: %w", name, err)
	}
	a.addCloser(name, func(context.Context) error {
		store.Close()
		return nil
	})
	a.migrators = append(a.migrators, store.Migrate)
	a.logger.Info("postgres store initialized", zap.String("name", name))
	return store, nil
}

func (a *App) setupStorage(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{
			Bucket: a.cfg.Storage.Bucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		if err := store.EnsureRetention(ctx, a.cfg.Storage.RetentionDays); err != nil {
			a.logger.Warn("gcs retention rule not applied", zap.Error(err))
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Dir))
		return store, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupQueues(ctx context.Context) (ingest.Queue, ingest.Queue, ingest.Queue, error) {
	qc := a.cfg.Queue
	if qc.Backend != config.BackendPubSub {
		a.logger.Info("using in-memory queues", zap.Int("depth", a.cfg.Pipeline.QueueDepth))
		newQueue := func(name string) ingest.Queue {
			q := queueMemory.NewQueue(a.cfg.Pipeline.QueueDepth, a.cfg.Pipeline.RedeliveryDelay)
			a.addCloser(name+"_queue", func(context.Context) error {
				q.Close()
				return nil
			})
			return q
		}
		return newQueue("runs"), newQueue("crawl"), newQueue("extract"), nil
	}

	client, err := pubsub.NewClient(ctx, qc.ProjectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return client.Close() })

	var queues []ingest.Queue
	for _, topic := range []config.TopicConfig{qc.Runs, qc.Crawl, qc.Extract} {
		qcfg := queuePubSub.Config{
			TopicID:        topic.Topic,
			SubscriptionID: topic.Subscription,
			AckDeadline:    qc.AckDeadline,
			MaxOutstanding: qc.MaxOutstanding,
			MinBackoff:     qc.MinBackoff,
			MaxBackoff:     qc.MaxBackoff,
		}
		if qc.CreateTopology {
			if err := queuePubSub.EnsureTopology(ctx, client, qcfg); err != nil {
				return nil, nil, nil, fmt.Errorf("pubsub topology for %s: %w", topic.Topic, err)
			}
		}
		q := queuePubSub.New(client, qcfg, a.logger)
		a.addCloser(topic.Subscription, func(context.Context) error {
			q.Close()
			return nil
		})
		queues = append(queues, q)
	}
	a.logger.Info("using Pub/Sub queues",
		zap.String("project", qc.ProjectID),
		zap.Duration("ack_deadline", qc.AckDeadline),
		zap.Duration("crawl_budget", a.cfg.CrawlBudget()),
	)
	return queues[0], queues[1], queues[2], nil
}

func (a *App) setupProgress() progress.Emitter {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		sinkList = append(sinkList, promSink)
	case errors.As(err, &already):
		a.logger.Debug("progress collectors already registered")
	default:
		a.logger.Warn("progress prometheus sink disabled", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.addCloser("progress_hub", hub.Close)
	return hub
}

func (a *App) setupAdapters() *adapter.Registry {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.HTTP.UserAgent,
		Timeout:     a.cfg.HTTP.FetchTimeout,
		MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
	})
	client := adapter.Client{
		Fetcher:        static,
		Logger:         a.logger.Named("adapter"),
		UserAgent:      a.cfg.HTTP.UserAgent,
		ListTimeout:    a.cfg.HTTP.ListTimeout,
		ContentTimeout: a.cfg.HTTP.FetchTimeout,
	}
	srcCfg := sources.Config{Client: client, Endpoints: a.cfg.Endpoints()}
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.addCloser("headless", func(context.Context) error {
				headless.Close()
				return nil
			})
			srcCfg.Headless = headlessfetcher.NewPromoting(static, headless, 0, a.logger.Named("headless"))
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	return sources.NewRegistry(srcCfg)
}

func (a *App) setupBreaker(ctx context.Context) (*breaker.Breaker, error) {
	var shared breaker.Counter
	if a.cfg.Breaker.Backend == config.BackendRedis {
		client, err := breaker.NewRedisClient(ctx, a.cfg.Breaker.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("breaker redis init failed: %w", err)
		}
		a.addCloser("redis", func(context.Context) error { return closeRedis(client) })
		shared = breaker.NewRedisCounter(client, a.cfg.Breaker.TTL)
		a.logger.Info("breaker counters in redis", zap.Duration("ttl", a.cfg.Breaker.TTL))
	}
	return breaker.New(a.cfg.Pipeline.BreakerThreshold, shared, a.logger), nil
}

func closeRedis(client *redis.Client) error {
	if err := client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Runs returns the run service.
func (a *App) Runs() *coordinator.Service {
	return a.runs
}

// Settings returns the source settings store.
func (a *App) Settings() ingest.SettingsStore {
	return a.settings
}

// Sources lists the registered adapters.
func (a *App) Sources() []ingest.Source {
	return a.registry.Sources()
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Migrate applies the embedded schema to every configured Postgres store.
func (a *App) Migrate(ctx context.Context) error {
	if len(a.migrators) == 0 {
		a.logger.Info("no postgres store configured, nothing to migrate")
		return nil
	}
	for _, migrate := range a.migrators {
		if err := migrate(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("schema migrated", zap.Int("stores", len(a.migrators)))
	return nil
}

// Start launches the worker pools. It is safe to call more than once.
func (a *App) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		for _, pool := range a.pools {
			a.wg.Add(1)
			go func(d *dispatcher.Dispatcher) {
				defer a.wg.Done()
				d.Run(ctx)
			}(pool)
		}
		a.logger.Info("worker pools started",
			zap.Int("coordinator", a.cfg.Pipeline.CoordinatorWorkers),
			zap.Int("crawl", a.cfg.Pipeline.CrawlWorkers),
			zap.Int("extract", a.cfg.Pipeline.ExtractWorkers),
		)
	})
}

// Serve starts the pools, the scheduler when enabled and the HTTP server,
// and blocks until ctx is canceled, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	a.Start(ctx)
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return errors.Join(err, a.Close(context.Background()))
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		a.logger.Error("http server error", zap.Error(err))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("server shutdown error", zap.Error(shutdownErr))
	}
	return errors.Join(err, a.Close(shutdownCtx))
}

// Ingest triggers one run for ownerID and waits until it is terminal.
func (a *App) Ingest(ctx context.Context, ownerID string, flags ingest.Flags, poll time.Duration) (ingest.Run, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	a.Start(ctx)
	run, err := a.runs.Trigger(ctx, ownerID, flags)
	if err != nil {
		return ingest.Run{}, err
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		status, err := a.runs.Status(ctx, run.ID)
		if err != nil {
			return ingest.Run{}, err
		}
		if status.Run.Status.Terminal() {
			return status.Run, nil
		}
		select {
		case <-ctx.Done():
			return status.Run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close stops the pools and releases every resource.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		a.tracerProvider = nil
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
