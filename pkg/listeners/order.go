package listeners

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// Order is the payload of the order topic.
type Order struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Validate checks that the product is not blank and the quantity is positive.
func (o *Order) Validate() error {
	var problems []string
	if strings.TrimSpace(o.Product) == "" {
		problems = append(problems, "product must not be blank")
	}
	if o.Quantity <= 0 {
		problems = append(problems, "quantity must be greater than 0")
	}
	if len(problems) > 0 {
		return redelivery.Invalid(strings.Join(problems, ", "))
	}
	return nil
}

// ValidateOrder is a redelivery.Validator for orders.
func ValidateOrder(o *Order) error {
	if o == nil {
		return redelivery.Invalid("entity must not be null")
	}
	return o.Validate()
}

// OrderListener stores orders after a fixed amount of simulated work. It is
// meant to run with several partitions in flight so slow orders on one
// partition do not hold back the others.
type OrderListener struct {
	repo     repository.Repository[Order]
	work     time.Duration
	attempts atomic.Int64
	logger   zerolog.Logger
}

func NewOrderListener(repo repository.Repository[Order], work time.Duration, logger zerolog.Logger) (*OrderListener, error) {
	if repo == nil {
		return nil, errors.New("order repository cannot be nil")
	}
	return &OrderListener{
		repo:   repo,
		work:   work,
		logger: logger.With().Str("component", "OrderListener").Logger(),
	}, nil
}

// Attempts returns how many times the handler has been invoked.
func (l *OrderListener) Attempts() int64 {
	return l.attempts.Load()
}

// Handle implements redelivery.Handler. Shutdown interrupts the simulated work.
func (l *OrderListener) Handle(ctx context.Context, msg types.BatchedMessage[Order]) error {
	l.attempts.Add(1)
	l.logger.Debug().Str("msg_id", msg.OriginalMessage.ID).Str("product", msg.Payload.Product).Msg("Order message.")

	if l.work > 0 {
		timer := time.NewTimer(l.work)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := l.repo.Save(ctx, msg.OriginalMessage.ID, *msg.Payload); err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to store order: %w", err))
	}
	return nil
}
