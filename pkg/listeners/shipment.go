package listeners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/illmade-knight/go-redelivery/pkg/repository"
	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// ErrShipmentRejected is returned for shipments the listener refuses permanently.
var ErrShipmentRejected = errors.New("shipment rejected")

// Shipment is the payload of the shipment topic.
type Shipment struct {
	Address        string `json:"address"`
	TrackingNumber int    `json:"trackingNumber"`
}

// Validate checks that the address is not blank and the tracking number is positive.
func (s *Shipment) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Address) == "" {
		problems = append(problems, "address must not be blank")
	}
	if s.TrackingNumber <= 0 {
		problems = append(problems, "trackingNumber must be greater than 0")
	}
	if len(problems) > 0 {
		return redelivery.Invalid(strings.Join(problems, ", "))
	}
	return nil
}

// ValidateShipment is a redelivery.Validator for shipments.
func ValidateShipment(s *Shipment) error {
	if s == nil {
		return redelivery.Invalid("entity must not be null")
	}
	return s.Validate()
}

// ShipmentListener stores shipments delivered in batches. Shipments are keyed
// by message id, so redelivering a stored shipment does not duplicate it.
type ShipmentListener struct {
	repo   repository.Repository[Shipment]
	logger zerolog.Logger
}

func NewShipmentListener(repo repository.Repository[Shipment], logger zerolog.Logger) (*ShipmentListener, error) {
	if repo == nil {
		return nil, errors.New("shipment repository cannot be nil")
	}
	return &ShipmentListener{
		repo:   repo,
		logger: logger.With().Str("component", "ShipmentListener").Logger(),
	}, nil
}

// Handle implements redelivery.Handler.
func (l *ShipmentListener) Handle(ctx context.Context, msg types.BatchedMessage[Shipment]) error {
	shipment := msg.Payload
	l.logger.Debug().Str("msg_id", msg.OriginalMessage.ID).Str("address", shipment.Address).Msg("Shipment message.")

	switch shipment.Address {
	case MarkerFailRetry:
		return redelivery.Retryable(errors.New(MarkerFailRetry))
	case MarkerFail:
		return fmt.Errorf("%w: %s", ErrShipmentRejected, MarkerFail)
	}

	if err := l.repo.Save(ctx, msg.OriginalMessage.ID, *shipment); err != nil {
		return redelivery.Retryable(fmt.Errorf("failed to store shipment: %w", err))
	}
	return nil
}
