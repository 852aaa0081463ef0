// Package scheduler triggers periodic runs for every owner with enabled
// sources.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Trigger creates and queues a run for one owner.
type Trigger interface {
	Trigger(ctx context.Context, ownerID string, flags ingest.Flags) (ingest.Run, error)
}

// Scheduler wraps robfig/cron and fires one run per owner on each tick.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	settings ingest.SettingsStore
	trigger  Trigger
	logger   *zap.Logger
}

// New validates spec (standard five-field syntax or descriptors such as
// "@every 6h") and builds a Scheduler.
func New(spec string, settings ingest.SettingsStore, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:     spec,
		settings: settings,
		trigger:  trigger,
		logger:   logger,
	}, nil
}

// Start registers the tick and starts the cron loop. ctx bounds every
// triggered run request.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("cron add func: %w", err)
	}
	s.cron.Start()
	s.logger.Info("cron started", zap.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop and waits for a running tick to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// Tick triggers one run for every owner with enabled sources and returns
// how many were queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	owners, err := s.settings.OwnersWithEnabledSources(ctx)
	if err != nil {
		s.logger.Error("load owners failed", zap.Error(err))
		return 0
	}
	if len(owners) == 0 {
		s.logger.Debug("no owners with enabled sources")
		return 0
	}
	triggered := 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}
		run, err := s.trigger.Trigger(ctx, owner, ingest.Flags{})
		if err != nil {
			s.logger.Error("scheduled run failed", zap.String("owner_id", owner), zap.Error(err))
			continue
		}
		triggered++
		s.logger.Info("scheduled run queued", zap.String("owner_id", owner), zap.String("run_id", run.ID))
	}
	return triggered
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
