package observability

import (
	"encoding/json"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
)

// MessageView is the JSON form of one message inside an attempt.
type MessageView struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Decoded   bool            `json:"decoded"`
	Value     json.RawMessage `json:"value,omitempty"`
	Raw       []byte          `json:"raw,omitempty"`
}

// AttemptView is the JSON form of one handler invocation.
type AttemptView struct {
	Sequence int           `json:"sequence"`
	Messages []MessageView `json:"messages"`
}

// AttemptFeed returns the attempts recorded so far, ordered by sequence.
type AttemptFeed func() []AttemptView

// FromTracker adapts an attempt tracker to an AttemptFeed. Decoded payloads
// are rendered as JSON; undecodable ones as their raw bytes, base64 encoded.
func FromTracker[T any](tracker *redelivery.AttemptTracker[T]) AttemptFeed {
	return func() []AttemptView {
		records := tracker.Records()
		views := make([]AttemptView, 0, len(records))
		for _, r := range records {
			view := AttemptView{Sequence: r.Sequence, Messages: make([]MessageView, 0, len(r.Messages))}
			for _, m := range r.Messages {
				original := m.OriginalMessage
				mv := MessageView{
					ID:        original.ID,
					Topic:     original.Topic,
					Partition: original.Partition,
					Offset:    original.Offset,
					Decoded:   m.Decoded(),
				}
				if b, err := json.Marshal(m.Payload); m.Decoded() && err == nil {
					mv.Value = b
				} else {
					mv.Raw = original.Payload
				}
				view.Messages = append(view.Messages, mv)
			}
			views = append(views, view)
		}
		return views
	}
}
