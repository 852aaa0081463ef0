// Package dispatcher manages worker fan-out over a queue and encodes the
// messages producers send to it.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   ingest.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue ingest.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Pool builds size workers that share handler and cfg.
func Pool(queue ingest.Queue, handler worker.Handler, size int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	workers := make([]*worker.Worker, 0, size)
	for range size {
		workers = append(workers, worker.New(queue, handler, cfg, logger))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Send encodes msg and enqueues it under key, carrying the caller's trace
// context in the envelope attributes.
func (d *Dispatcher) Send(ctx context.Context, key string, msg any) error {
	env, err := ingest.Encode(key, msg)
	if err != nil {
		return err
	}
	env.Attributes = map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(env.Attributes))
	if err := d.queue.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
