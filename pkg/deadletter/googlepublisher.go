package deadletter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// AttributePartition carries the mirrored partition on Pub/Sub messages, which
// have no partitions of their own.
const AttributePartition = "dlt-partition"

// GooglePubsubPublisherConfig holds configuration for the Google Pub/Sub publisher.
type GooglePubsubPublisherConfig struct {
	ProjectID string
	// EnableOrdering publishes with an ordering key per mirrored partition so
	// quarantined records of one partition keep their relative order.
	EnableOrdering bool
	// CheckExistence verifies each topic exists before the first publish.
	CheckExistence bool
	PublishTimeout time.Duration
}

// LoadGooglePubsubPublisherConfigFromEnv loads publisher configuration from environment variables.
func LoadGooglePubsubPublisherConfigFromEnv() (*GooglePubsubPublisherConfig, error) {
	cfg := &GooglePubsubPublisherConfig{
		ProjectID:      os.Getenv("GCP_PROJECT_ID"),
		EnableOrdering: true,
		CheckExistence: true,
		PublishTimeout: 10 * time.Second,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub publisher")
	}
	if v := os.Getenv("PUBSUB_DLQ_ENABLE_ORDERING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableOrdering = b
		}
	}
	if v := os.Getenv("PUBSUB_DLQ_PUBLISH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PublishTimeout = d
		}
	}
	return cfg, nil
}

// GooglePubsubPublisher publishes quarantined records to Google Cloud Pub/Sub.
// Topic handles are created lazily and reused.
type GooglePubsubPublisher struct {
	client *pubsub.Client
	cfg    GooglePubsubPublisherConfig
	logger zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGooglePubsubPublisher creates a publisher from an existing *pubsub.Client,
// allowing for dependency injection. The client is not closed by Stop.
func NewGooglePubsubPublisher(client *pubsub.Client, cfg *GooglePubsubPublisherConfig, logger zerolog.Logger) (*GooglePubsubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for publisher")
	}
	if cfg == nil {
		return nil, errors.New("pubsub publisher config cannot be nil")
	}
	if cfg.PublishTimeout <= 0 {
		logger.Warn().Dur("invalid_timeout", cfg.PublishTimeout).Msg("GooglePubsubPublisherConfig.PublishTimeout is non-positive. Defaulting to 10s.")
		cfg.PublishTimeout = 10 * time.Second
	}
	return &GooglePubsubPublisher{
		client: client,
		cfg:    *cfg,
		logger: logger.With().Str("component", "GooglePubsubPublisher").Logger(),
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func (p *GooglePubsubPublisher) topic(ctx context.Context, id string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t, nil
	}
	t := p.client.Topic(id)
	if p.cfg.CheckExistence {
		exists, err := t.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check existence of topic %s: %w", id, err)
		}
		if !exists {
			return nil, fmt.Errorf("pubsub topic %s does not exist", id)
		}
	}
	t.EnableMessageOrdering = p.cfg.EnableOrdering
	p.topics[id] = t
	p.logger.Debug().Str("topic_id", id).Msg("Pub/Sub topic handle created.")
	return t, nil
}

func (p *GooglePubsubPublisher) Publish(ctx context.Context, letter DeadLetter) error {
	topic, err := p.topic(ctx, letter.Topic)
	if err != nil {
		return err
	}

	attributes := make(map[string]string, len(letter.Headers)+1)
	for k, v := range letter.Headers {
		attributes[k] = v
	}
	msg := &pubsub.Message{Data: letter.Value, Attributes: attributes}
	if letter.Partition != PartitionAny {
		attributes[AttributePartition] = strconv.FormatInt(int64(letter.Partition), 10)
		if p.cfg.EnableOrdering {
			msg.OrderingKey = "partition-" + attributes[AttributePartition]
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	msgID, err := topic.Publish(publishCtx, msg).Get(publishCtx)
	if err != nil {
		if msg.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("pubsub publish to %s: %w", letter.Topic, err)
	}
	p.logger.Debug().
		Str("topic_id", letter.Topic).
		Str("pubsub_msg_id", msgID).
		Msg("Message published successfully and confirmed by Pub/Sub.")
	return nil
}

// Stop flushes and stops every topic handle.
func (p *GooglePubsubPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.topics {
		t.Stop()
		delete(p.topics, id)
	}
	p.logger.Info().Msg("GooglePubsubPublisher stopped; the injected Pub/Sub client is not closed.")
}
