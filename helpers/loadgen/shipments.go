package loadgen

import (
	"encoding/json"
	"math/rand/v2"
	"sync/atomic"

	"github.com/illmade-knight/go-redelivery/pkg/listeners"
)

// ShipmentGenerator emits shipment payloads, a share of which are built to
// exercise each failure path of the shipment listener.
type ShipmentGenerator struct {
	// RetryRatio of payloads carry the transient failure marker.
	RetryRatio float64
	// FailRatio of payloads carry the permanent failure marker.
	FailRatio float64
	// InvalidRatio of payloads fail validation.
	InvalidRatio float64
	// MalformedRatio of payloads are not valid JSON.
	MalformedRatio float64

	tracking atomic.Int64
}

func (g *ShipmentGenerator) GeneratePayload(source *Source) ([]byte, error) {
	n := int(g.tracking.Add(1))
	shipment := listeners.Shipment{Address: source.ID + " warehouse", TrackingNumber: n}

	r := rand.Float64()
	switch {
	case r < g.MalformedRatio:
		return []byte(`{"address":`), nil
	case r < g.MalformedRatio+g.InvalidRatio:
		shipment.Address = ""
	case r < g.MalformedRatio+g.InvalidRatio+g.FailRatio:
		shipment.Address = listeners.MarkerFail
	case r < g.MalformedRatio+g.InvalidRatio+g.FailRatio+g.RetryRatio:
		shipment.Address = listeners.MarkerFailRetry
	}
	return json.Marshal(shipment)
}
