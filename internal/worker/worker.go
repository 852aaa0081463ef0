// Package worker implements the queue consumers of the pipeline: a generic
// delivery loop plus the crawl and extract handlers it drives.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
)

const tracerName = "github.com/JakeFAU/jobs-ingest/internal/worker"

// Handler processes one message body. Returning an error requests
// redelivery unless it wraps ingest.ErrMalformed or ingest.ErrRunAborted.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, body []byte) error {
	return f(ctx, body)
}

// Config controls Worker behavior.
type Config struct {
	// Name labels logs, metrics and spans (e.g. "crawl").
	Name string
	// MaxDeliveries drops a message after this many failed attempts; <= 0
	// redelivers forever.
	MaxDeliveries int
}

// Worker consumes deliveries from a queue and hands them to a Handler.
type Worker struct {
	queue   ingest.Queue
	handler Handler
	cfg     Config
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue ingest.Queue, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		tracer:  otel.Tracer(tracerName),
		logger:  logger.Named(cfg.Name),
	}
}

// Run blocks, consuming deliveries until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d ingest.Delivery) {
	metrics.IncActiveWorkers(w.cfg.Name)
	defer metrics.DecActiveWorkers(w.cfg.Name)

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(d.Attributes))
	ctx, span := w.tracer.Start(ctx, w.cfg.Name+".handle", trace.WithAttributes(
		attribute.String("messaging.message.key", d.Key),
		attribute.Int("messaging.delivery_attempt", d.Attempt),
	))
	defer span.End()

	start := time.Now()
	err := w.handler.Handle(ctx, d.Body)
	fields := []zap.Field{
		zap.String("key", d.Key),
		zap.Int("attempt", d.Attempt),
		zap.Duration("dur", time.Since(start)),
	}
	switch {
	case err == nil:
		d.Ack()
		metrics.ObserveDelivery(w.cfg.Name, "ack")
		return
	case errors.Is(err, ingest.ErrRunAborted):
		w.logger.Debug("run aborted, dropping message", append(fields, zap.Error(err))...)
		d.Ack()
		metrics.ObserveDelivery(w.cfg.Name, "aborted")
		return
	case errors.Is(err, ingest.ErrMalformed):
		w.logger.Error("dropping malformed message", append(fields, zap.Error(err))...)
		d.Ack()
		metrics.ObserveDelivery(w.cfg.Name, "malformed")
	case w.cfg.MaxDeliveries > 0 && d.Attempt >= w.cfg.MaxDeliveries:
		w.logger.Error("dropping message after max deliveries", append(fields, zap.Error(err))...)
		d.Ack()
		metrics.ObserveDelivery(w.cfg.Name, "dropped")
	default:
		w.logger.Warn("message failed, requesting redelivery", append(fields, zap.Error(err))...)
		d.Nack()
		metrics.ObserveDelivery(w.cfg.Name, "nack")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// checkAborted reloads the run and returns ingest.ErrRunAborted once it has
// been aborted.
func checkAborted(ctx context.Context, runs ingest.RunStore, runID string) error {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	if run.Status == ingest.RunStatusAborted {
		return fmt.Errorf("run %s: %w", runID, ingest.ErrRunAborted)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
