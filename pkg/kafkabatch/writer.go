package kafkabatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Writer produces records to a single topic. It is used to seed source topics
// and by tools that feed the consumer.
type Writer struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewWriter creates a Writer over an existing client.
func NewWriter(client *kgo.Client, topic string, logger zerolog.Logger) (*Writer, error) {
	if client == nil {
		return nil, errors.New("kafka client cannot be nil")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	return &Writer{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "KafkaWriter").Str("topic", topic).Logger(),
	}, nil
}

// WriteRaw produces the payloads in order with a single synchronous produce
// call, so they land in one batch on the partitioner's chosen partition.
func (w *Writer) WriteRaw(ctx context.Context, key []byte, payloads ...[]byte) error {
	records := make([]*kgo.Record, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, &kgo.Record{Topic: w.topic, Key: key, Value: p})
	}
	if err := w.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", w.topic, err)
	}
	w.logger.Debug().Int("count", len(records)).Msg("Records produced.")
	return nil
}

// WriteJSON marshals each value and produces them as WriteRaw does.
func (w *Writer) WriteJSON(ctx context.Context, key []byte, values ...any) error {
	payloads := make([][]byte, 0, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value %d: %w", i, err)
		}
		payloads = append(payloads, b)
	}
	return w.WriteRaw(ctx, key, payloads...)
}
