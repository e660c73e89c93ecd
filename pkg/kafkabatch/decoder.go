package kafkabatch

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Decoder turns a consumed record into a structured payload of type T. It has
// access to the whole message, so it can use headers or the key as well as the
// value. A returned error marks the message as a conversion failure.
type Decoder[T any] func(msg types.ConsumedMessage) (*T, error)

// JSONDecoder decodes the record value as JSON into a new T.
func JSONDecoder[T any](msg types.ConsumedMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", msg.ID, err)
	}
	return &v, nil
}

// ToConsumedMessage copies the parts of a franz-go record the pipeline needs.
func ToConsumedMessage(r *kgo.Record) types.ConsumedMessage {
	var headers map[string]string
	if len(r.Headers) > 0 {
		headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return types.ConsumedMessage{
		ID:          r.Topic + "/" + strconv.FormatInt(int64(r.Partition), 10) + "/" + strconv.FormatInt(r.Offset, 10),
		Topic:       r.Topic,
		Partition:   r.Partition,
		Offset:      r.Offset,
		LeaderEpoch: r.LeaderEpoch,
		Key:         r.Key,
		Payload:     r.Value,
		Headers:     headers,
		PublishTime: r.Timestamp,
	}
}

// decodeBatch converts the records of one partition, in offset order, into a
// batch. Records that fail to decode stay in place carrying their error.
func decodeBatch[T any](records []*kgo.Record, decode Decoder[T]) types.Batch[T] {
	batch := make(types.Batch[T], 0, len(records))
	for _, r := range records {
		msg := ToConsumedMessage(r)
		payload, err := decode(msg)
		if err == nil && payload == nil {
			err = fmt.Errorf("decoder returned no payload for %s", msg.ID)
		}
		batch = append(batch, types.BatchedMessage[T]{
			OriginalMessage: msg,
			Payload:         payload,
			DecodeErr:       err,
		})
	}
	return batch
}
