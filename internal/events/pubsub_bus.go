package events

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-memory Bus and also publishes every envelope to a
// Google Cloud Pub/Sub topic for durable, cross-service delivery.
//
// Fan-out strategy:
//   - Pub/Sub: durable, at-least-once delivery to downstream consumers
//   - In-memory: immediate push to local subscribers
type PubSubBus struct {
	*Bus // embedded so Subscribe/Unsubscribe still work

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubBus creates a Pub/Sub-backed event bus, creating the topic if it
// does not exist.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pub/sub topic", "topic", topicID)
	}

	bus := &PubSubBus{
		Bus:    NewBus(),
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}

	bus.logger.Printf("connected to pub/sub topic projects/%s/topics/%s", projectID, topicID)
	return bus, nil
}

// Emit seals the event, publishes it to Pub/Sub, and fans out to in-memory
// subscribers. Publish failures are logged, never surfaced: event emission is
// fire-and-forget by contract.
func (pb *PubSubBus) Emit(ctx context.Context, ev Event) {
	env, err := newEnvelope(ev)
	if err != nil {
		pb.logger.Printf("drop event %s: %v", ev.Topic(), err)
		return
	}

	payload, err := env.marshal()
	if err != nil {
		pb.logger.Printf("marshal envelope %s: %v", env.ID, err)
	} else {
		msg := &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"topic": env.Topic,
				"id":    env.ID,
				"time":  env.Time.Format(time.RFC3339Nano),
			},
		}
		result := pb.topic.Publish(ctx, msg)
		// Check the result off the hot path.
		go func() {
			if _, err := result.Get(context.Background()); err != nil {
				pb.logger.Printf("pub/sub publish failed: %s -> %v", env.ID, err)
			}
		}()
	}

	pb.Bus.deliver(env)
}

// Close gracefully shuts down the Pub/Sub client.
func (pb *PubSubBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

// HealthCheck verifies the Pub/Sub topic is reachable.
func (pb *PubSubBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

var _ Emitter = (*PubSubBus)(nil)
