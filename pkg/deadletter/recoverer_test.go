package deadletter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invoice struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

func newTestRecoverer(t *testing.T) (*deadletter.Recoverer[invoice], *deadletter.InMemoryPublisher) {
	t.Helper()
	publisher := deadletter.NewInMemoryPublisher()
	router := deadletter.NewRouter(deadletter.RouterConfig{
		TopicMapping:    map[string]string{"invoice-request": "invoice-dlq"},
		PartitionCounts: map[string]int32{"invoice-dlq": 4},
	})
	recoverer, err := deadletter.NewRecoverer[invoice](publisher, router, nil, zerolog.Nop())
	require.NoError(t, err)
	return recoverer, publisher
}

func TestRecoverer_DecodedMessage_PublishesCanonicalForm(t *testing.T) {
	recoverer, publisher := newTestRecoverer(t)
	msg := types.BatchedMessage[invoice]{
		OriginalMessage: types.ConsumedMessage{
			ID:        "invoice-request/3/42",
			Topic:     "invoice-request",
			Partition: 3,
			Offset:    42,
			Key:       []byte("k1"),
			// Extra whitespace shows the canonical form is re-serialized.
			Payload: []byte(`{ "id": -1,  "message": "Msg D" }`),
			Headers: map[string]string{"trace-id": "abc"},
		},
		Payload: &invoice{ID: -1, Message: "Msg D"},
	}

	err := recoverer.Recover(context.Background(), msg, redelivery.Failed(redelivery.NonRetryableFailure, errors.New("Fail")))
	require.NoError(t, err)

	published := publisher.ByTopic("invoice-dlq")
	require.Len(t, published, 1)
	letter := published[0]
	assert.Equal(t, `{"id":-1,"message":"Msg D"}`, string(letter.Value))
	assert.Equal(t, int32(3), letter.Partition)
	assert.Equal(t, []byte("k1"), letter.Key)
	assert.Equal(t, deadletter.ContentTypeJSON, letter.ContentType)
	assert.Equal(t, "abc", letter.Headers["trace-id"])
	assert.Equal(t, "invoice-request", letter.Headers[deadletter.HeaderOriginalTopic])
	assert.Equal(t, "3", letter.Headers[deadletter.HeaderOriginalPartition])
	assert.Equal(t, "42", letter.Headers[deadletter.HeaderOriginalOffset])
	assert.Equal(t, "non_retryable", letter.Headers[deadletter.HeaderFailureKind])
	assert.Equal(t, "Fail", letter.Headers[deadletter.HeaderExceptionMessage])
	assert.NotEmpty(t, letter.Headers[deadletter.HeaderID])
}

func TestRecoverer_UndecodedMessage_PublishesRawBytes(t *testing.T) {
	recoverer, publisher := newTestRecoverer(t)
	raw := []byte(`{"invalid-json {`)
	msg := types.BatchedMessage[invoice]{
		OriginalMessage: types.ConsumedMessage{Topic: "invoice-request", Partition: 0, Offset: 7, Payload: raw},
		DecodeErr:       errors.New("unexpected end of JSON input"),
	}
	cause := &redelivery.ConversionError{Topic: "invoice-request", Offset: 7, Err: msg.DecodeErr}

	require.NoError(t, recoverer.Recover(context.Background(), msg, redelivery.Failed(redelivery.ConversionFailure, cause)))

	published := publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, raw, published[0].Value)
	assert.Equal(t, deadletter.ContentTypeBinary, published[0].ContentType)
	assert.Equal(t, "conversion", published[0].Headers[deadletter.HeaderFailureKind])
}

func TestRecoverer_PublishFailure_IsReported(t *testing.T) {
	recoverer, publisher := newTestRecoverer(t)
	publisher.SetError(errors.New("broker down"))
	msg := types.BatchedMessage[invoice]{
		OriginalMessage: types.ConsumedMessage{Topic: "invoice-request"},
		Payload:         &invoice{ID: 1},
	}

	err := recoverer.Recover(context.Background(), msg, redelivery.Failed(redelivery.NonRetryableFailure, errors.New("x")))

	assert.ErrorIs(t, err, redelivery.ErrRecovererFailure)
	assert.Empty(t, publisher.Published())
}

func TestRecoverer_UnroutableTopic_IsReported(t *testing.T) {
	recoverer, _ := newTestRecoverer(t)
	msg := types.BatchedMessage[invoice]{OriginalMessage: types.ConsumedMessage{Topic: "unknown"}}

	err := recoverer.Recover(context.Background(), msg, redelivery.Failed(redelivery.NonRetryableFailure, errors.New("x")))

	assert.ErrorIs(t, err, redelivery.ErrRecovererFailure)
	assert.ErrorIs(t, err, deadletter.ErrNoTopicMapping)
}
