package kafkabatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/kafkabatch"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	sourceTopic = "shipment"
	dlqTopic    = "shipment-dlq"
)

type shipment struct {
	Address        string `json:"address"`
	TrackingNumber int    `json:"trackingNumber"`
}

// store records the addresses of handled shipments keyed by offset.
type store struct {
	mu    sync.Mutex
	saved map[int64]string
}

func newStore() *store { return &store{saved: map[int64]string{}} }

func (s *store) handler() redelivery.Handler[shipment] {
	return redelivery.HandlerFunc[shipment](func(_ context.Context, msg types.BatchedMessage[shipment]) error {
		if msg.Payload.Address == "Fail & Retry" {
			return redelivery.Retryable(errors.New("Fail & Retry"))
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.saved[msg.OriginalMessage.Offset] = msg.Payload.Address
		return nil
	})
}

func (s *store) addresses() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.saved))
	for k, v := range s.saved {
		out[k] = v
	}
	return out
}

func setupCluster(t *testing.T, partitions int32) []string {
	t.Helper()
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(partitions, sourceTopic, dlqTopic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	return cluster.ListenAddrs()
}

func produce(t *testing.T, brokers []string, payloads ...[]byte) {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	require.NoError(t, err)
	defer client.Close()

	writer, err := kafkabatch.NewWriter(client, sourceTopic, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, writer.WriteRaw(ctx, nil, payloads...))
}

func jsonPayloads(t *testing.T, shipments ...shipment) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(shipments))
	for _, s := range shipments {
		b, err := json.Marshal(s)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func committedOffset(t *testing.T, brokers []string, group string) (int64, bool) {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offsets, err := kadm.NewClient(client).FetchOffsets(ctx, group)
	require.NoError(t, err)
	o, ok := offsets.Lookup(sourceTopic, 0)
	if !ok || o.Err != nil {
		return 0, false
	}
	return o.At, true
}

type harness struct {
	brokers  []string
	group    string
	consumer *kafkabatch.Consumer[shipment]
	store    *store
	dlq      *deadletter.InMemoryPublisher
	cancel   context.CancelFunc
	done     chan error
}

func startConsumer(t *testing.T, brokers []string, batch bool, dlq *deadletter.InMemoryPublisher) *harness {
	t.Helper()
	h := &harness{
		brokers: brokers,
		group:   "shipment-group",
		store:   newStore(),
		dlq:     dlq,
		done:    make(chan error, 1),
	}
	recoverer, err := deadletter.NewRecoverer[shipment](dlq, deadletter.NewRouter(deadletter.RouterConfig{Suffix: deadletter.DefaultSuffix}), nil, zerolog.Nop())
	require.NoError(t, err)

	h.consumer, err = kafkabatch.NewConsumer(kafkabatch.ConsumerConfig{
		Brokers:     brokers,
		GroupID:     h.group,
		Topics:      []string{sourceTopic},
		Concurrency: 2,
		Batch:       batch,
	}, nil, redelivery.EngineConfig[shipment]{
		Handler:   h.store.handler(),
		Recoverer: recoverer,
		Backoff:   redelivery.FixedBackoff{Interval: 10 * time.Millisecond, MaxRetries: 5},
	}, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.consumer.Close()
	})
	return h
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func TestConsumer_BatchScenario(t *testing.T) {
	brokers := setupCluster(t, 1)
	produce(t, brokers, jsonPayloads(t,
		shipment{Address: "m1", TrackingNumber: 1},
		shipment{Address: "Fail & Retry", TrackingNumber: 2},
		shipment{Address: "m3", TrackingNumber: 3},
		shipment{Address: "m4", TrackingNumber: 4},
	)...)

	h := startConsumer(t, brokers, true, deadletter.NewInMemoryPublisher())

	require.Eventually(t, func() bool {
		return len(h.store.addresses()) == 3 && len(h.dlq.Published()) == 1
	}, 15*time.Second, 20*time.Millisecond)
	require.NoError(t, h.stop(t))

	assert.Equal(t, map[int64]string{0: "m1", 2: "m3", 3: "m4"}, h.store.addresses())

	records := h.consumer.Engine().Tracker().Records()
	require.Len(t, records, 7)
	var sizes []int
	for _, r := range records {
		sizes = append(sizes, len(r.Messages))
	}
	assert.Equal(t, []int{4, 3, 3, 3, 3, 3, 2}, sizes)

	letter := h.dlq.Published()[0]
	assert.Equal(t, dlqTopic, letter.Topic)
	assert.Equal(t, "1", letter.Headers[deadletter.HeaderOriginalOffset])
	assert.Equal(t, "true", letter.Headers[deadletter.HeaderExhausted])

	at, ok := committedOffset(t, brokers, h.group)
	require.True(t, ok)
	assert.Equal(t, int64(4), at)
}

func TestConsumer_ConversionFailureQuarantinedImmediately(t *testing.T) {
	brokers := setupCluster(t, 1)
	payloads := append([][]byte{[]byte(`{"invalid-json {`)}, jsonPayloads(t, shipment{Address: "m2", TrackingNumber: 2})...)
	produce(t, brokers, payloads...)

	h := startConsumer(t, brokers, true, deadletter.NewInMemoryPublisher())

	require.Eventually(t, func() bool {
		return len(h.store.addresses()) == 1 && len(h.dlq.Published()) == 1
	}, 15*time.Second, 20*time.Millisecond)
	require.NoError(t, h.stop(t))

	letter := h.dlq.Published()[0]
	assert.Equal(t, []byte(`{"invalid-json {`), letter.Value)
	assert.Equal(t, "conversion", letter.Headers[deadletter.HeaderFailureKind])
	assert.Equal(t, 2, h.consumer.Engine().Tracker().Len())
}

func TestConsumer_SingleRecordMode(t *testing.T) {
	brokers := setupCluster(t, 1)
	produce(t, brokers, jsonPayloads(t,
		shipment{Address: "m1", TrackingNumber: 1},
		shipment{Address: "Fail & Retry", TrackingNumber: 2},
		shipment{Address: "m3", TrackingNumber: 3},
	)...)

	h := startConsumer(t, brokers, false, deadletter.NewInMemoryPublisher())

	require.Eventually(t, func() bool {
		return len(h.store.addresses()) == 2 && len(h.dlq.Published()) == 1
	}, 15*time.Second, 20*time.Millisecond)
	require.NoError(t, h.stop(t))

	records := h.consumer.Engine().Tracker().Records()
	require.Len(t, records, 8)
	for _, r := range records {
		assert.Len(t, r.Messages, 1)
	}
	at, ok := committedOffset(t, brokers, h.group)
	require.True(t, ok)
	assert.Equal(t, int64(3), at)
}

func TestConsumer_RecovererFailureStopsConsumer(t *testing.T) {
	brokers := setupCluster(t, 1)
	produce(t, brokers, jsonPayloads(t,
		shipment{Address: "m1", TrackingNumber: 1},
		shipment{Address: "Fail & Retry", TrackingNumber: 2},
		shipment{Address: "m3", TrackingNumber: 3},
	)...)

	dlq := deadletter.NewInMemoryPublisher()
	dlq.SetError(errors.New("quarantine unavailable"))
	h := startConsumer(t, brokers, true, dlq)

	select {
	case err := <-h.done:
		require.ErrorIs(t, err, redelivery.ErrRecovererFailure)
	case <-time.After(15 * time.Second):
		t.Fatal("consumer did not stop on recoverer failure")
	}

	assert.Equal(t, map[int64]string{0: "m1"}, h.store.addresses())
	at, ok := committedOffset(t, brokers, h.group)
	require.True(t, ok)
	assert.Equal(t, int64(1), at, "only the message before the failed one is committed")
}

func TestNewConsumer_Validation(t *testing.T) {
	engineCfg := redelivery.EngineConfig[shipment]{
		Handler: newStore().handler(),
	}
	testCases := []struct {
		name string
		cfg  kafkabatch.ConsumerConfig
	}{
		{name: "no brokers", cfg: kafkabatch.ConsumerConfig{GroupID: "g", Topics: []string{"t"}}},
		{name: "no group", cfg: kafkabatch.ConsumerConfig{Brokers: []string{"localhost:9092"}, Topics: []string{"t"}}},
		{name: "no topics", cfg: kafkabatch.ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}},
		{name: "engine without recoverer", cfg: kafkabatch.ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g", Topics: []string{"t"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := kafkabatch.NewConsumer(tc.cfg, nil, engineCfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestNewConsumerWithClient_MaxStall(t *testing.T) {
	client, err := kgo.NewClient(kgo.SeedBrokers("localhost:9092"))
	require.NoError(t, err)
	defer client.Close()

	recoverer, err := deadletter.NewRecoverer[shipment](deadletter.NewInMemoryPublisher(), deadletter.NewRouter(deadletter.RouterConfig{}), nil, zerolog.Nop())
	require.NoError(t, err)
	cfg := kafkabatch.ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g", Topics: []string{sourceTopic}}

	t.Run("configured backoff", func(t *testing.T) {
		consumer, err := kafkabatch.NewConsumerWithClient(client, cfg, nil, redelivery.EngineConfig[shipment]{
			Handler:   newStore().handler(),
			Recoverer: recoverer,
			Backoff:   redelivery.FixedBackoff{Interval: 2 * time.Second, MaxRetries: 3},
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 6*time.Second, consumer.MaxStall())
	})

	t.Run("default backoff", func(t *testing.T) {
		consumer, err := kafkabatch.NewConsumerWithClient(client, cfg, nil, redelivery.EngineConfig[shipment]{
			Handler:   newStore().handler(),
			Recoverer: recoverer,
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 500*time.Millisecond, consumer.MaxStall())
	})
}
