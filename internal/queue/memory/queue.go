// Package memory provides an ordered at-least-once queue for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

type item struct {
	env     ingest.Envelope
	attempt int
}

// Queue hands out envelopes in enqueue order, holding back an envelope while
// another with the same key is in flight. Nacked envelopes return to the head
// of the queue. An empty key is never held back.
type Queue struct {
	capacity   int
	redelivery time.Duration

	mu       sync.Mutex
	pending  []item
	inflight map[string]bool
	changed  chan struct{}
	closed   bool
}

// NewQueue constructs a queue that blocks producers beyond capacity (0 means
// unbounded) and waits redelivery before a nacked envelope is handed out
// again.
func NewQueue(capacity int, redelivery time.Duration) *Queue {
	return &Queue{
		capacity:   capacity,
		redelivery: redelivery,
		inflight:   make(map[string]bool),
		changed:    make(chan struct{}),
	}
}

// Enqueue appends env or returns if the context ends while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, env ingest.Envelope) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity <= 0 || len(q.pending) < q.capacity {
			q.pending = append(q.pending, item{env: env, attempt: 1})
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Dequeue returns the oldest envelope whose key is not in flight, blocking
// until one is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (ingest.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ingest.Delivery{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ingest.Delivery{}, ErrClosed
		}
		if it, ok := q.takeLocked(); ok {
			q.mu.Unlock()
			return q.deliver(it), nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ingest.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Len reports the number of envelopes waiting to be handed out.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close wakes all waiters; subsequent calls fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) takeLocked() (item, bool) {
	for i, it := range q.pending {
		if it.env.Key != "" && q.inflight[it.env.Key] {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		if it.env.Key != "" {
			q.inflight[it.env.Key] = true
		}
		q.broadcastLocked()
		return it, true
	}
	return item{}, false
}

func (q *Queue) deliver(it item) ingest.Delivery {
	var once sync.Once
	ack := func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.inflight, it.env.Key)
			q.broadcastLocked()
		})
	}
	nack := func() {
		once.Do(func() {
			retry := item{env: it.env, attempt: it.attempt + 1}
			if q.redelivery <= 0 {
				q.requeue(retry)
				return
			}
			time.AfterFunc(q.redelivery, func() { q.requeue(retry) })
		})
	}
	return ingest.NewDelivery(it.env, it.attempt, ack, nack)
}

// requeue puts a nacked envelope back at the head. Its key stays in flight
// until then so later envelopes with the same key cannot overtake it.
func (q *Queue) requeue(it item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, it.env.Key)
	if q.closed {
		return
	}
	q.pending = append([]item{it}, q.pending...)
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
