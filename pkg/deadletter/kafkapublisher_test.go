package deadletter_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

func setupFakeKafka(t *testing.T, partitions int32, topics ...string) []string {
	t.Helper()
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(partitions, topics...))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	return cluster.ListenAddrs()
}

func readAll(t *testing.T, brokers []string, topic string, want int) []*kgo.Record {
	t.Helper()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var records []*kgo.Record
	for len(records) < want {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			break
		}
		records = append(records, fetches.Records()...)
	}
	return records
}

func TestKafkaPublisher_MirrorsPartition(t *testing.T) {
	brokers := setupFakeKafka(t, 3, "shipment-dlq")
	publisher, err := deadletter.DialKafkaPublisher(brokers, zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Stop()

	ctx := context.Background()
	require.NoError(t, publisher.Publish(ctx, deadletter.DeadLetter{
		Topic:     "shipment-dlq",
		Partition: 2,
		Key:       []byte("m2"),
		Value:     []byte(`{"address":"Fail & Retry","trackingNumber":2}`),
		Headers:   map[string]string{deadletter.HeaderOriginalOffset: "1"},
	}))
	require.NoError(t, publisher.Publish(ctx, deadletter.DeadLetter{
		Topic:     "shipment-dlq",
		Partition: deadletter.PartitionAny,
		Value:     []byte(`{"invalid-json {`),
	}))

	records := readAll(t, brokers, "shipment-dlq", 2)
	require.Len(t, records, 2)

	byValue := map[string]*kgo.Record{}
	for _, r := range records {
		byValue[string(r.Value)] = r
	}
	mirrored := byValue[`{"address":"Fail & Retry","trackingNumber":2}`]
	require.NotNil(t, mirrored)
	assert.Equal(t, int32(2), mirrored.Partition)
	require.Len(t, mirrored.Headers, 1)
	assert.Equal(t, deadletter.HeaderOriginalOffset, mirrored.Headers[0].Key)
	assert.Equal(t, "1", string(mirrored.Headers[0].Value))
	assert.NotNil(t, byValue[`{"invalid-json {`])
}

func TestMirrorPartitioner_FallsBackWhenPartitionMissing(t *testing.T) {
	partitioner := deadletter.MirrorPartitioner().ForTopic("t")

	assert.Equal(t, 1, partitioner.Partition(&kgo.Record{Partition: 1}, 3))

	keyed := partitioner.Partition(&kgo.Record{Partition: 9, Key: []byte("k")}, 3)
	assert.Equal(t, keyed, partitioner.Partition(&kgo.Record{Partition: -1, Key: []byte("k")}, 3), "same key, same partition")
	assert.GreaterOrEqual(t, keyed, 0)
	assert.Less(t, keyed, 3)
}

func TestMirrorPartitioner_KeyedFallbackMatchesKafkaHashing(t *testing.T) {
	mirror := deadletter.MirrorPartitioner().ForTopic("shipment-dlq")
	kafkaDefault := kgo.StickyKeyPartitioner(nil).ForTopic("shipment-dlq")

	for _, key := range []string{"m1", "m2", "shipment/0/17", "order-42", ""} {
		t.Run(key, func(t *testing.T) {
			rec := &kgo.Record{Partition: deadletter.PartitionAny, Key: []byte(key)}
			want := kafkaDefault.Partition(&kgo.Record{Key: []byte(key)}, 12)
			assert.Equal(t, want, mirror.Partition(rec, 12))
		})
	}
}

func TestNewKafkaPublisher_RequiresClient(t *testing.T) {
	_, err := deadletter.NewKafkaPublisher(nil, zerolog.Nop())
	assert.Error(t, err)
}
