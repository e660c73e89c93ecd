package deadletter

import (
	"context"
)

// DeadLetter is a record bound for a quarantine destination.
type DeadLetter struct {
	Topic string
	// Partition is the target partition, or PartitionAny.
	Partition   int32
	Key         []byte
	Value       []byte
	Headers     map[string]string
	ContentType string
}

// Publisher sends records to a messaging system. Kafka, Pub/Sub and in-memory
// implementations are provided; Publish must be safe for concurrent use and
// must only return once the broker has accepted the record.
type Publisher interface {
	Publish(ctx context.Context, letter DeadLetter) error
	// Stop releases resources held by the publisher.
	Stop()
}
