package loadgen

import (
	"context"
)

// PayloadGenerator creates the payload of the next record of a source.
// Implementations must be safe for concurrent use across sources.
type PayloadGenerator interface {
	GeneratePayload(source *Source) ([]byte, error)
}

// Client publishes generated records to a broker.
type Client interface {
	Connect() error
	Disconnect()
	// Publish sends one record keyed by the source id. It reports whether the
	// broker accepted it.
	Publish(ctx context.Context, key, payload []byte) (bool, error)
}
