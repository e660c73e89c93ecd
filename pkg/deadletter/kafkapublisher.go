package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// MirrorPartitioner honours Record.Partition when it names a partition that
// exists. Otherwise keyed records are hashed the way the Java client does
// (murmur2, via kgo.StickyKeyPartitioner) and keyless records go round robin.
// The producing client must be created with
// kgo.RecordPartitioner(MirrorPartitioner()) for mirrored publishes to work.
func MirrorPartitioner() kgo.Partitioner {
	return kgo.BasicConsistentPartitioner(func(topic string) func(*kgo.Record, int) int {
		keyed := kgo.StickyKeyPartitioner(nil).ForTopic(topic)
		var next atomic.Uint32
		return func(r *kgo.Record, n int) int {
			if r.Partition >= 0 && int(r.Partition) < n {
				return int(r.Partition)
			}
			if r.Key != nil {
				return keyed.Partition(r, n)
			}
			return int(next.Add(1) % uint32(n))
		}
	})
}

// KafkaPublisher publishes records synchronously with a franz-go client.
type KafkaPublisher struct {
	client     *kgo.Client
	ownsClient bool
	logger     zerolog.Logger
}

// NewKafkaPublisher wraps an existing client. The client is not closed by Stop.
func NewKafkaPublisher(client *kgo.Client, logger zerolog.Logger) (*KafkaPublisher, error) {
	if client == nil {
		return nil, errors.New("kafka client cannot be nil for publisher")
	}
	return &KafkaPublisher{
		client: client,
		logger: logger.With().Str("component", "KafkaPublisher").Logger(),
	}, nil
}

// DialKafkaPublisher creates a dedicated producing client for the given brokers.
func DialKafkaPublisher(brokers []string, logger zerolog.Logger, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no seed brokers provided")
	}
	all := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RecordPartitioner(MirrorPartitioner()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)
	client, err := kgo.NewClient(all...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher client: %w", err)
	}
	p, _ := NewKafkaPublisher(client, logger)
	p.ownsClient = true
	logger.Info().Strs("brokers", brokers).Msg("Kafka publisher initialized.")
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, letter DeadLetter) error {
	record := &kgo.Record{
		Topic:     letter.Topic,
		Partition: letter.Partition,
		Key:       letter.Key,
		Value:     letter.Value,
		Headers:   toRecordHeaders(letter.Headers),
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", letter.Topic, err)
	}
	p.logger.Debug().
		Str("topic", record.Topic).
		Int32("partition", record.Partition).
		Int64("offset", record.Offset).
		Msg("Record published and acknowledged.")
	return nil
}

func (p *KafkaPublisher) Stop() {
	if p.ownsClient {
		p.client.Close()
		p.logger.Info().Msg("Kafka publisher client closed.")
	}
}

func toRecordHeaders(headers map[string]string) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}
	return out
}
