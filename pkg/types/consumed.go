package types

import (
	"time"
)

// ConsumedMessage is a single record as it was delivered by the broker.
// It is immutable once delivered; consumers must not modify Payload or Headers.
type ConsumedMessage struct {
	// ID identifies the message for logging, typically "topic/partition/offset".
	ID string
	// Topic, Partition and Offset locate the record in the source log.
	Topic     string
	Partition int32
	Offset    int64
	// LeaderEpoch is the partition leader epoch the record was fetched at, or -1.
	LeaderEpoch int32
	// Key is the optional record key.
	Key []byte
	// Payload is the raw byte content of the message.
	Payload []byte
	// Headers carries record headers flattened to strings.
	Headers map[string]string
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
}

// Header returns the value of a header, or "" if it is not set.
func (m ConsumedMessage) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}
