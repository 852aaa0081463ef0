package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

func TestWorkerAcksHandledMessages(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	var handled sync.WaitGroup
	handled.Add(2)
	h := HandlerFunc(func(context.Context, []byte) error {
		handled.Done()
		return nil
	})
	stop := runWorker(t, q, h, Config{Name: "test"})
	defer stop()

	q.push("a", 1)
	q.push("b", 1)
	handled.Wait()

	require.Eventually(t, func() bool { return q.acks() == 2 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.nacks())
}

func TestWorkerNacksFailedMessages(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	h := HandlerFunc(func(context.Context, []byte) error { return errors.New("store unavailable") })
	stop := runWorker(t, q, h, Config{Name: "test", MaxDeliveries: 3})
	defer stop()

	q.push("a", 1)

	require.Eventually(t, func() bool { return q.nacks() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.acks())
}

func TestWorkerDropsAfterMaxDeliveries(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	h := HandlerFunc(func(context.Context, []byte) error { return errors.New("store unavailable") })
	stop := runWorker(t, q, h, Config{Name: "test", MaxDeliveries: 3})
	defer stop()

	q.push("a", 3)

	require.Eventually(t, func() bool { return q.acks() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.nacks())
}

func TestWorkerAcksMalformedMessages(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	h := HandlerFunc(func(_ context.Context, body []byte) error {
		var instr ingest.CrawlInstruction
		return ingest.Decode(body, &instr)
	})
	stop := runWorker(t, q, h, Config{Name: "test"})
	defer stop()

	q.push("a", 1)

	require.Eventually(t, func() bool { return q.acks() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.nacks())
}

func TestWorkerAcksAbortedRunMessages(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	h := HandlerFunc(func(context.Context, []byte) error {
		return fmt.Errorf("run run-1: %w", ingest.ErrRunAborted)
	})
	stop := runWorker(t, q, h, Config{Name: "test", MaxDeliveries: 3})
	defer stop()

	q.push("a", 1)

	require.Eventually(t, func() bool { return q.acks() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.nacks())
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	w := New(q, HandlerFunc(func(context.Context, []byte) error { return nil }), Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleep(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}

func runWorker(t *testing.T, q ingest.Queue, h Handler, cfg Config) func() {
	t.Helper()
	w := New(q, h, cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

type fakeQueue struct {
	ch chan ingest.Delivery

	mu    sync.Mutex
	acked int
	nackd int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan ingest.Delivery, 16)}
}

func (q *fakeQueue) push(key string, attempt int) {
	env := ingest.Envelope{Key: key, Body: []byte(fmt.Sprintf(`{"key":%q}`, key))}
	q.ch <- ingest.NewDelivery(env, attempt, func() {
		q.mu.Lock()
		q.acked++
		q.mu.Unlock()
	}, func() {
		q.mu.Lock()
		q.nackd++
		q.mu.Unlock()
	})
}

func (q *fakeQueue) Enqueue(_ context.Context, env ingest.Envelope) error {
	q.ch <- ingest.NewDelivery(env, 1, nil, nil)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (ingest.Delivery, error) {
	select {
	case <-ctx.Done():
		return ingest.Delivery{}, ctx.Err()
	case d := <-q.ch:
		return d, nil
	}
}

func (q *fakeQueue) acks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *fakeQueue) nacks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nackd
}
