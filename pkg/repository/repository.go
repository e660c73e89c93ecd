package repository

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no item is stored under a key.
var ErrNotFound = errors.New("item not found")

// Repository stores successfully processed items by key. Saving an existing key
// overwrites it, so replaying a message stores it once.
type Repository[T any] interface {
	Save(ctx context.Context, key string, item T) error
	Get(ctx context.Context, key string) (T, error)
	Keys(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NotFoundError reports the key that was missing.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.Key)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
