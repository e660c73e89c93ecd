package kafkabatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ====================================================================================
// This file contains the Kafka consumer loop. Each poll is split by partition and
// every partition batch is handed to the redelivery engine on a worker pool. The
// next poll only happens once all partition batches of the current one resolved,
// which keeps the records of a partition strictly ordered.
// ====================================================================================

// ConsumerConfig holds the consumer group settings.
//
// All partition batches of one poll are resolved before the next poll, and the
// group cannot rebalance meanwhile. A record that keeps failing with a
// retryable error therefore holds back every partition of the poll, and any
// rebalance, for up to redelivery.TotalWait of the engine's backoff policy
// (Interval × MaxRetries for a FixedBackoff) before it is recovered. Keep that
// well under the group's rebalance timeout.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	// Concurrency is the number of partitions processed at once.
	Concurrency int
	// MaxPollRecords bounds the records returned by one poll. Zero means no bound.
	MaxPollRecords int
	// Batch delivers each partition's records to the engine as one batch. When
	// false every record is processed on its own.
	Batch bool
}

// Consumer joins a consumer group and feeds the records it receives through a
// redelivery engine. Offsets are committed only by the engine.
type Consumer[T any] struct {
	client      *kgo.Client
	ownsClient  bool
	engine      *redelivery.Engine[T]
	decode      Decoder[T]
	concurrency int
	maxPoll     int
	batch       bool
	maxStall    time.Duration
	logger      zerolog.Logger
}

// NewConsumer dials the brokers, joins the group and builds an engine from
// engineCfg with a Committer bound to the new client. Any Committer already in
// engineCfg is replaced. A nil decode means JSONDecoder.
func NewConsumer[T any](cfg ConsumerConfig, decode Decoder[T], engineCfg redelivery.EngineConfig[T], logger zerolog.Logger, opts ...kgo.Opt) (*Consumer[T], error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group id cannot be empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}

	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "redelivery-" + uuid.NewString()
	}
	clientOpts = append(clientOpts, kgo.ClientID(cfg.ClientID))
	client, err := kgo.NewClient(append(clientOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	c, err := NewConsumerWithClient(client, cfg, decode, engineCfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.ownsClient = true
	return c, nil
}

// NewConsumerWithClient uses an existing group client, allowing for dependency
// injection. The client should have autocommit disabled and rebalances blocked
// on poll; it is not closed by Close.
func NewConsumerWithClient[T any](client *kgo.Client, cfg ConsumerConfig, decode Decoder[T], engineCfg redelivery.EngineConfig[T], logger zerolog.Logger) (*Consumer[T], error) {
	if client == nil {
		return nil, errors.New("kafka client cannot be nil")
	}
	if decode == nil {
		decode = JSONDecoder[T]
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	backoff := engineCfg.Backoff
	if backoff == nil {
		backoff = redelivery.DefaultBackoff()
	}

	engineCfg.Committer = NewCommitter(client)
	engine, err := redelivery.NewEngine(engineCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redelivery engine: %w", err)
	}

	return &Consumer[T]{
		client:      client,
		engine:      engine,
		decode:      decode,
		concurrency: concurrency,
		maxPoll:     cfg.MaxPollRecords,
		batch:       cfg.Batch,
		maxStall:    redelivery.TotalWait(backoff),
		logger: logger.With().
			Str("component", "KafkaBatchConsumer").
			Str("group_id", cfg.GroupID).
			Str("client_id", cfg.ClientID).
			Logger(),
	}, nil
}

// MaxStall is the longest one retrying record can hold back the next poll.
func (c *Consumer[T]) MaxStall() time.Duration {
	return c.maxStall
}

// Engine returns the engine the consumer feeds.
func (c *Consumer[T]) Engine() *redelivery.Engine[T] {
	return c.engine
}

// Run polls until ctx is cancelled or a partition fails fatally. Cancellation
// is a clean stop and returns nil; unresolved records are redelivered to the
// next group member. A fatal partition error, such as one wrapping
// redelivery.ErrRecovererFailure, is returned.
func (c *Consumer[T]) Run(ctx context.Context) error {
	pool, err := ants.NewPool(c.concurrency)
	if err != nil {
		return fmt.Errorf("failed to create partition worker pool: %w", err)
	}
	defer pool.Release()

	c.logger.Info().
		Int("concurrency", c.concurrency).
		Bool("batch", c.batch).
		Dur("max_stall_per_record", c.maxStall).
		Msg("Starting Kafka consumption...")
	for {
		fetches := c.client.PollRecords(ctx, c.maxPoll)
		if fetches.IsClientClosed() {
			c.logger.Info().Msg("Kafka client closed, consumer stopping.")
			return nil
		}
		if ctx.Err() != nil {
			c.logger.Info().Msg("Context cancelled, consumer stopping.")
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("Fetch error.")
		})

		var batches []types.Batch[T]
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			batches = append(batches, decodeBatch(p.Records, c.decode))
		})

		err := c.dispatch(ctx, pool, batches)
		c.client.AllowRebalance()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				c.logger.Info().Msg("Context cancelled during processing, consumer stopping.")
				return nil
			}
			c.logger.Error().Err(err).Msg("Partition processing failed, consumer stopping.")
			return err
		}
	}
}

// dispatch processes every partition batch on the pool and waits for all of
// them. It returns the first error reported by a partition.
func (c *Consumer[T]) dispatch(ctx context.Context, pool *ants.Pool, batches []types.Batch[T]) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, batch := range batches {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := c.processPartition(ctx, batch); err != nil {
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(fmt.Errorf("failed to submit partition batch: %w", err))
		}
	}
	wg.Wait()
	return firstErr
}

func (c *Consumer[T]) processPartition(ctx context.Context, batch types.Batch[T]) error {
	if c.batch {
		return c.engine.Process(ctx, batch)
	}
	for _, msg := range batch {
		if err := c.engine.ProcessOne(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close leaves the group and closes the client if the consumer created it.
func (c *Consumer[T]) Close() {
	if c.ownsClient {
		c.client.Close()
	}
	c.logger.Info().Msg("Kafka consumer closed.")
}
