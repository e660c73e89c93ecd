package loadgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-redelivery/pkg/kafkabatch"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaClient publishes generated records to one Kafka topic.
type KafkaClient struct {
	brokers []string
	topic   string
	logger  zerolog.Logger

	client *kgo.Client
	writer *kafkabatch.Writer
}

func NewKafkaClient(brokers []string, topic string, logger zerolog.Logger) *KafkaClient {
	return &KafkaClient{brokers: brokers, topic: topic, logger: logger}
}

func (c *KafkaClient) Connect() error {
	client, err := kgo.NewClient(kgo.SeedBrokers(c.brokers...))
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	writer, err := kafkabatch.NewWriter(client, c.topic, c.logger)
	if err != nil {
		client.Close()
		return err
	}
	c.client, c.writer = client, writer
	return nil
}

func (c *KafkaClient) Disconnect() {
	if c.client != nil {
		c.client.Close()
		c.client, c.writer = nil, nil
	}
}

func (c *KafkaClient) Publish(ctx context.Context, key, payload []byte) (bool, error) {
	if c.writer == nil {
		return false, errors.New("kafka client is not connected")
	}
	if err := c.writer.WriteRaw(ctx, key, payload); err != nil {
		return false, err
	}
	return true, nil
}
