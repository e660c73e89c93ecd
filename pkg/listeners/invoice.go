package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/illmade-knight/go-redelivery/pkg/deadletter"
	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// HeaderCorrelationID links a reply to the request message it answers.
const HeaderCorrelationID = "correlation-id"

// ErrInvoiceRejected is returned for invoices the forwarder refuses permanently.
var ErrInvoiceRejected = errors.New("invoice rejected")

// Invoice is the payload of the invoice request topic. Both fields are required.
type Invoice struct {
	ID      *int    `json:"id"`
	Message *string `json:"message"`
}

// Validate checks that the id is present and not negative and the message is present.
func (i *Invoice) Validate() error {
	var problems []string
	if i.ID == nil {
		problems = append(problems, "id must not be null")
	} else if *i.ID < 0 {
		problems = append(problems, "id must be greater than or equal to 0")
	}
	if i.Message == nil {
		problems = append(problems, "message must not be null")
	}
	if len(problems) > 0 {
		return redelivery.Invalid(strings.Join(problems, ", "))
	}
	return nil
}

// ValidateInvoice is a redelivery.Validator for invoices.
func ValidateInvoice(i *Invoice) error {
	if i == nil {
		return redelivery.Invalid("entity must not be null")
	}
	return i.Validate()
}

// InvoiceProcessed is the reply sent for every stored invoice.
type InvoiceProcessed struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// InvoiceForwarder handles single invoices: it stores each one and sends an
// InvoiceProcessed reply to the reply topic.
type InvoiceForwarder struct {
	repo       repository.Repository[Invoice]
	replies    deadletter.Publisher
	replyTopic string
	attempts   atomic.Int64
	logger     zerolog.Logger
}

func NewInvoiceForwarder(repo repository.Repository[Invoice], replies deadletter.Publisher, replyTopic string, logger zerolog.Logger) (*InvoiceForwarder, error) {
	if repo == nil {
		return nil, errors.New("invoice repository cannot be nil")
	}
	if replies == nil {
		return nil, errors.New("reply publisher cannot be nil")
	}
	if replyTopic == "" {
		return nil, errors.New("reply topic cannot be empty")
	}
	return &InvoiceForwarder{
		repo:       repo,
		replies:    replies,
		replyTopic: replyTopic,
		logger:     logger.With().Str("component", "InvoiceForwarder").Str("reply_topic", replyTopic).Logger(),
	}, nil
}

// Attempts returns how many times the handler has been invoked.
func (f *InvoiceForwarder) Attempts() int64 {
	return f.attempts.Load()
}

// Handle implements redelivery.Handler.
func (f *InvoiceForwarder) Handle(ctx context.Context, msg types.BatchedMessage[Invoice]) error {
	f.attempts.Add(1)
	invoice := msg.Payload
	if err := ValidateInvoice(invoice); err != nil {
		return err
	}
	f.logger.Debug().Str("msg_id", msg.OriginalMessage.ID).Int("invoice_id", *invoice.ID).Msg("Invoice message.")

	switch *invoice.Message {
	case MarkerFailRetry:
		return redelivery.Retryable(errors.New(MarkerFailRetry))
	case MarkerFail:
		return fmt.Errorf("%w: %s", ErrInvoiceRejected, MarkerFail)
	}

	if err := f.repo.Save(ctx, msg.OriginalMessage.ID, *invoice); err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to store invoice: %w", err))
	}

	reply, err := json.Marshal(InvoiceProcessed{ID: *invoice.ID, Message: *invoice.Message})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	err = f.replies.Publish(ctx, deadletter.DeadLetter{
		Topic:       f.replyTopic,
		Partition:   deadletter.PartitionAny,
		Key:         msg.OriginalMessage.Key,
		Value:       reply,
		Headers:     map[string]string{HeaderCorrelationID: msg.OriginalMessage.ID, deadletter.HeaderContentType: deadletter.ContentTypeJSON},
		ContentType: deadletter.ContentTypeJSON,
	})
	if err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to send reply: %w", err))
	}
	return nil
}
