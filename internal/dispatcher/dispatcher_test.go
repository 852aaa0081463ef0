package dispatcher

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
	"github.com/JakeFAU/jobs-ingest/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	handler := worker.HandlerFunc(func(context.Context, []byte) error { return nil })
	dispatch := Pool(queue, handler, 2, worker.Config{Name: "test"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSendForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherSendForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&recordingQueue{err: errors.New("boom")}, nil)

	err := dispatch.Send(context.Background(), "google", ingest.RunRequest{RunID: "run", OwnerID: "owner"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherSendEncodesMessage(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	dispatch := New(queue, nil)

	require.NoError(t, dispatch.Send(context.Background(), "owner", ingest.RunRequest{RunID: "run", OwnerID: "owner"}))

	require.Len(t, queue.envs, 1)
	assert.Equal(t, "owner", queue.envs[0].Key)
	assert.NotNil(t, queue.envs[0].Attributes)
	var got ingest.RunRequest
	require.NoError(t, ingest.Decode(queue.envs[0].Body, &got))
	assert.Equal(t, ingest.RunRequest{RunID: "run", OwnerID: "owner"}, got)
}

func TestDispatcherSendRejectsUnencodableMessage(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	err := New(queue, nil).Send(context.Background(), "k", make(chan int))
	require.Error(t, err)
	assert.Empty(t, queue.envs)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, ingest.Envelope) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (ingest.Delivery, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ingest.Delivery{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type recordingQueue struct {
	mu   sync.Mutex
	envs []ingest.Envelope
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, env ingest.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.envs = append(q.envs, env)
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (ingest.Delivery, error) {
	<-ctx.Done()
	return ingest.Delivery{}, ctx.Err()
}
