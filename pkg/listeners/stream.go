package listeners

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// JSONWriter produces JSON values to a fixed output topic.
// *kafkabatch.Writer satisfies it.
type JSONWriter interface {
	WriteJSON(ctx context.Context, key []byte, values ...any) error
}

// InvoiceStream maps every invoice read from its input topic to an
// InvoiceProcessed record on the output topic, keeping the record key. It is
// stateless: nothing is stored and no reply headers are added.
type InvoiceStream struct {
	out    JSONWriter
	logger zerolog.Logger
}

func NewInvoiceStream(out JSONWriter, logger zerolog.Logger) (*InvoiceStream, error) {
	if out == nil {
		return nil, errors.New("stream output writer cannot be nil")
	}
	return &InvoiceStream{
		out:    out,
		logger: logger.With().Str("component", "InvoiceStream").Logger(),
	}, nil
}

// Handle implements redelivery.Handler.
func (s *InvoiceStream) Handle(ctx context.Context, msg types.BatchedMessage[Invoice]) error {
	var processed InvoiceProcessed
	if msg.Payload.ID != nil {
		processed.ID = *msg.Payload.ID
	}
	if msg.Payload.Message != nil {
		processed.Message = *msg.Payload.Message
	}
	s.logger.Info().
		Str("key", string(msg.OriginalMessage.Key)).
		Int("invoice_id", processed.ID).
		Msg("Received message.")

	if err := s.out.WriteJSON(ctx, msg.OriginalMessage.Key, processed); err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to forward invoice: %w", err))
	}
	return nil
}
