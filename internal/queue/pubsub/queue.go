// Package pubsub implements the ordered work queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// ErrClosed is returned by Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Config names the topic and subscription backing one queue.
type Config struct {
	TopicID        string
	SubscriptionID string
	// AckDeadline must exceed the longest time a handler holds a message.
	AckDeadline time.Duration
	// MaxOutstanding bounds unacknowledged messages held by this process.
	MaxOutstanding int
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

// Queue publishes envelopes with their key as the ordering key and receives
// them through a streaming pull.
type Queue struct {
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	deliveries chan ingest.Delivery
	logger     *zap.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	recvErr   error
}

// New returns a Queue over existing resources; see EnsureTopology.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(cfg.TopicID)
	topic.EnableMessageOrdering = true
	sub := client.Subscription(cfg.SubscriptionID)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	return &Queue{
		topic:      topic,
		sub:        sub,
		deliveries: make(chan ingest.Delivery),
		logger:     logger.With(zap.String("subscription", cfg.SubscriptionID)),
		done:       make(chan struct{}),
	}
}

// EnsureTopology creates the topic and an ordered subscription when they do
// not exist yet.
func EnsureTopology(ctx context.Context, client *pubsub.Client, cfg Config) error {
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, cfg.TopicID); err != nil {
			return fmt.Errorf("create topic %q: %w", cfg.TopicID, err)
		}
	}
	sub := client.Subscription(cfg.SubscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %q: %w", cfg.SubscriptionID, err)
	}
	if exists {
		return nil
	}
	subCfg := pubsub.SubscriptionConfig{
		Topic:                 topic,
		AckDeadline:           cfg.AckDeadline,
		EnableMessageOrdering: true,
	}
	if cfg.MinBackoff > 0 || cfg.MaxBackoff > 0 {
		subCfg.RetryPolicy = &pubsub.RetryPolicy{
			MinimumBackoff: cfg.MinBackoff,
			MaximumBackoff: cfg.MaxBackoff,
		}
	}
	if _, err := client.CreateSubscription(ctx, cfg.SubscriptionID, subCfg); err != nil {
		return fmt.Errorf("create subscription %q: %w", cfg.SubscriptionID, err)
	}
	return nil
}

// Enqueue publishes env and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, env ingest.Envelope) error {
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:        env.Body,
		Attributes:  env.Attributes,
		OrderingKey: env.Key,
	})
	if _, err := result.Get(ctx); err != nil {
		if env.Key != "" {
			// A failed publish pauses its ordering key until resumed.
			q.topic.ResumePublish(env.Key)
		}
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Dequeue returns the next received message. The streaming pull starts on
// the first call and runs until Close.
func (q *Queue) Dequeue(ctx context.Context) (ingest.Delivery, error) {
	q.startOnce.Do(q.start)
	select {
	case <-ctx.Done():
		return ingest.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.done:
		if q.recvErr != nil {
			return ingest.Delivery{}, fmt.Errorf("receive: %w", q.recvErr)
		}
		return ingest.Delivery{}, ErrClosed
	}
}

func (q *Queue) start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.done)
		err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			attempt := 1
			if msg.DeliveryAttempt != nil {
				attempt = *msg.DeliveryAttempt
			}
			env := ingest.Envelope{Key: msg.OrderingKey, Body: msg.Data, Attributes: msg.Attributes}
			select {
			case q.deliveries <- ingest.NewDelivery(env, attempt, msg.Ack, msg.Nack):
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.recvErr = err
		}
	}()
}

// Close stops receiving and flushes pending publishes. The client is owned
// by the caller.
func (q *Queue) Close() {
	q.startOnce.Do(func() { close(q.done) })
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.topic.Stop()
}
