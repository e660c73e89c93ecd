package deadletter

import (
	"context"
	"sync"
)

// InMemoryPublisher keeps published records in memory. It is used by tests and
// by the CLI when no broker sink is configured.
type InMemoryPublisher struct {
	mu      sync.Mutex
	letters []DeadLetter
	err     error
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(ctx context.Context, letter DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.letters = append(p.letters, letter)
	return nil
}

// SetError makes subsequent Publish calls fail with err (nil clears it).
func (p *InMemoryPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Published returns a copy of everything published so far.
func (p *InMemoryPublisher) Published() []DeadLetter {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DeadLetter, len(p.letters))
	copy(out, p.letters)
	return out
}

// ByTopic returns the records published to topic.
func (p *InMemoryPublisher) ByTopic(topic string) []DeadLetter {
	var out []DeadLetter
	for _, l := range p.Published() {
		if l.Topic == topic {
			out = append(out, l)
		}
	}
	return out
}

// Clear drops all stored records.
func (p *InMemoryPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.letters = nil
}

func (p *InMemoryPublisher) Stop() {}
