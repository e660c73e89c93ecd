package listeners

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// ErrPaymentRejected is returned for payments the listener refuses permanently.
var ErrPaymentRejected = errors.New("payment rejected")

// Payment is the payload of the payment topic. Both fields are required.
type Payment struct {
	Message *string `json:"message"`
	Amount  *int    `json:"amount"`
}

// Validate checks that the message is present and the amount is present and
// not negative.
func (p *Payment) Validate() error {
	var problems []string
	if p.Message == nil {
		problems = append(problems, "message must not be null")
	}
	if p.Amount == nil {
		problems = append(problems, "amount must not be null")
	} else if *p.Amount < 0 {
		problems = append(problems, "amount must be greater than or equal to 0")
	}
	if len(problems) > 0 {
		return redelivery.Invalid(strings.Join(problems, ", "))
	}
	return nil
}

// ValidatePayment is a redelivery.Validator for payments.
func ValidatePayment(p *Payment) error {
	if p == nil {
		return redelivery.Invalid("entity must not be null")
	}
	return p.Validate()
}

// PaymentListener stores single payments, failing on the demo markers.
type PaymentListener struct {
	repo     repository.Repository[Payment]
	attempts atomic.Int64
	logger   zerolog.Logger
}

func NewPaymentListener(repo repository.Repository[Payment], logger zerolog.Logger) (*PaymentListener, error) {
	if repo == nil {
		return nil, errors.New("payment repository cannot be nil")
	}
	return &PaymentListener{
		repo:   repo,
		logger: logger.With().Str("component", "PaymentListener").Logger(),
	}, nil
}

// Attempts returns how many times the handler has been invoked.
func (l *PaymentListener) Attempts() int64 {
	return l.attempts.Load()
}

// Handle implements redelivery.Handler.
func (l *PaymentListener) Handle(ctx context.Context, msg types.BatchedMessage[Payment]) error {
	l.attempts.Add(1)
	payment := msg.Payload
	if err := ValidatePayment(payment); err != nil {
		return err
	}
	l.logger.Debug().Str("msg_id", msg.OriginalMessage.ID).Int("amount", *payment.Amount).Msg("Payment message.")

	switch *payment.Message {
	case MarkerFailRetry:
		return redelivery.Retryable(errors.New(MarkerFailRetry))
	case MarkerFail:
		return fmt.Errorf("%w: %s", ErrPaymentRejected, MarkerFail)
	}

	if err := l.repo.Save(ctx, msg.OriginalMessage.ID, *payment); err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to store payment: %w", err))
	}
	return nil
}
