package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

var testConfig = Config{
	TopicID:        "crawl",
	SubscriptionID: "crawl-workers",
	AckDeadline:    60 * time.Second,
	MaxOutstanding: 4,
}

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnsureTopologyIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	require.NoError(t, EnsureTopology(ctx, client, testConfig))
	require.NoError(t, EnsureTopology(ctx, client, testConfig))

	cfg, err := client.Subscription(testConfig.SubscriptionID).Config(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.EnableMessageOrdering)
	assert.Equal(t, testConfig.TopicID, cfg.Topic.ID())
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := newTestClient(t)
	require.NoError(t, EnsureTopology(ctx, client, testConfig))

	q := New(client, testConfig, nil)
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, ingest.Envelope{
		Key:        "google",
		Body:       []byte(`{"run_id":"run-1"}`),
		Attributes: map[string]string{"traceparent": "00-abc"},
	}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "google", d.Key)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(d.Body))
	assert.Equal(t, "00-abc", d.Attributes["traceparent"])
	assert.Equal(t, 1, d.Attempt)
	d.Ack()
}

func TestDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	require.NoError(t, EnsureTopology(context.Background(), client, testConfig))
	q := New(client, testConfig, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueAfterClose(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	q := New(client, testConfig, nil)
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
