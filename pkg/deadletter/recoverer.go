package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// Headers added to every quarantined record.
const (
	HeaderID                = "dlt-id"
	HeaderOriginalTopic     = "dlt-original-topic"
	HeaderOriginalPartition = "dlt-original-partition"
	HeaderOriginalOffset    = "dlt-original-offset"
	HeaderFailureKind       = "dlt-failure-kind"
	HeaderExhausted         = "dlt-retries-exhausted"
	HeaderExceptionMessage  = "dlt-exception-message"
	HeaderRecoveredAt       = "dlt-recovered-at"
	HeaderContentType       = "content-type"
)

// Recoverer publishes messages the engine gave up on to their quarantine
// destination. Decoded messages are published in their canonical serialized
// form; undecodable ones are published as the original bytes.
type Recoverer[T any] struct {
	publisher  Publisher
	router     *Router
	serializer Serializer[T]
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRecoverer creates a Recoverer. A nil serializer defaults to JSON.
func NewRecoverer[T any](publisher Publisher, router *Router, serializer Serializer[T], logger zerolog.Logger) (*Recoverer[T], error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if router == nil {
		return nil, errors.New("router cannot be nil")
	}
	if serializer == nil {
		serializer = JSONSerializer[T]
	}
	return &Recoverer[T]{
		publisher:  publisher,
		router:     router,
		serializer: serializer,
		logger:     logger.With().Str("component", "DeadLetterRecoverer").Logger(),
		now:        time.Now,
	}, nil
}

// Recover implements redelivery.Recoverer. Any failure is returned wrapped in
// redelivery.ErrRecovererFailure; it is never swallowed.
func (r *Recoverer[T]) Recover(ctx context.Context, msg types.BatchedMessage[T], outcome redelivery.Outcome) error {
	original := msg.OriginalMessage
	dest, err := r.router.Resolve(original)
	if err != nil {
		return fmt.Errorf("%w: %w", redelivery.ErrRecovererFailure, err)
	}

	letter := r.letterFor(msg, outcome, dest)
	if err := r.publisher.Publish(ctx, letter); err != nil {
		return fmt.Errorf("%w: publish %s to %s: %w", redelivery.ErrRecovererFailure, original.ID, dest.Topic, err)
	}

	r.logger.Info().
		Str("msg_id", original.ID).
		Str("dlq_topic", dest.Topic).
		Int32("dlq_partition", dest.Partition).
		Str("kind", outcome.Kind.String()).
		Str("content_type", letter.ContentType).
		Msg("Message quarantined.")
	return nil
}

func (r *Recoverer[T]) letterFor(msg types.BatchedMessage[T], outcome redelivery.Outcome, dest Destination) DeadLetter {
	original := msg.OriginalMessage

	value, contentType := original.Payload, ContentTypeBinary
	if msg.Decoded() && msg.Payload != nil {
		encoded, err := r.serializer(msg.Payload)
		if err != nil {
			r.logger.Warn().Err(err).Str("msg_id", original.ID).Msg("Failed to serialize decoded value, publishing original bytes.")
		} else {
			value, contentType = encoded, ContentTypeJSON
		}
	}

	headers := make(map[string]string, len(original.Headers)+9)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers[HeaderID] = uuid.NewString()
	headers[HeaderOriginalTopic] = original.Topic
	headers[HeaderOriginalPartition] = strconv.FormatInt(int64(original.Partition), 10)
	headers[HeaderOriginalOffset] = strconv.FormatInt(original.Offset, 10)
	headers[HeaderFailureKind] = outcome.Kind.String()
	headers[HeaderExhausted] = strconv.FormatBool(outcome.Exhausted)
	headers[HeaderRecoveredAt] = r.now().UTC().Format(time.RFC3339Nano)
	headers[HeaderContentType] = contentType
	if outcome.Cause != nil {
		headers[HeaderExceptionMessage] = outcome.Cause.Error()
	}

	return DeadLetter{
		Topic:       dest.Topic,
		Partition:   dest.Partition,
		Key:         original.Key,
		Value:       value,
		Headers:     headers,
		ContentType: contentType,
	}
}
