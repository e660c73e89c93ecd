package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// InMemoryRepository implements Repository using a simple in-memory map.
// It's primarily for testing or local runs where persistence isn't required.
type InMemoryRepository[T any] struct {
	items  map[string]T
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewInMemoryRepository creates an empty InMemoryRepository.
func NewInMemoryRepository[T any](logger zerolog.Logger) *InMemoryRepository[T] {
	return &InMemoryRepository[T]{
		items:  make(map[string]T),
		logger: logger.With().Str("component", "InMemoryRepository").Logger(),
	}
}

func (r *InMemoryRepository[T]) Save(ctx context.Context, key string, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = item
	r.logger.Debug().Str("key", key).Msg("Item written to in-memory repository.")
	return nil
}

func (r *InMemoryRepository[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[key]
	if !ok {
		return zero, NotFoundError{Key: key}
	}
	return item, nil
}

// Keys returns the stored keys in sorted order.
func (r *InMemoryRepository[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *InMemoryRepository[T]) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// Clear removes every item.
func (r *InMemoryRepository[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
}

func (r *InMemoryRepository[T]) Close() error {
	r.logger.Info().Msg("In-memory repository closed.")
	return nil
}
