package redelivery

import (
	"sort"
	"sync"

	"github.com/illmade-knight/go-redelivery/pkg/types"
)

// AttemptRecord is an immutable snapshot of one handler invocation.
type AttemptRecord[T any] struct {
	Sequence int
	Messages []types.BatchedMessage[T]
}

// AttemptTracker records every invocation of the batch handler. One tracker is
// usually shared by all partitions of a listener; it is safe for concurrent use.
type AttemptTracker[T any] struct {
	mu       sync.RWMutex
	counter  int
	attempts map[int][]types.BatchedMessage[T]
}

// NewAttemptTracker creates an empty tracker.
func NewAttemptTracker[T any]() *AttemptTracker[T] {
	return &AttemptTracker[T]{attempts: make(map[int][]types.BatchedMessage[T])}
}

// Record appends the working set and returns its sequence number.
func (t *AttemptTracker[T]) Record(messages []types.BatchedMessage[T]) int {
	snapshot := make([]types.BatchedMessage[T], len(messages))
	copy(snapshot, messages)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter++
	t.attempts[t.counter] = snapshot
	return t.counter
}

// All returns a point-in-time copy of sequence number to messages.
func (t *AttemptTracker[T]) All() map[int][]types.BatchedMessage[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int][]types.BatchedMessage[T], len(t.attempts))
	for seq, msgs := range t.attempts {
		out[seq] = msgs
	}
	return out
}

// Records returns the attempts ordered by sequence number.
func (t *AttemptTracker[T]) Records() []AttemptRecord[T] {
	all := t.All()
	records := make([]AttemptRecord[T], 0, len(all))
	for seq, msgs := range all {
		records = append(records, AttemptRecord[T]{Sequence: seq, Messages: msgs})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records
}

// Len returns the number of recorded attempts.
func (t *AttemptTracker[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.attempts)
}

// Clear resets the counter and drops all records. Only meant for use between
// independent test scenarios.
func (t *AttemptTracker[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter = 0
	t.attempts = make(map[int][]types.BatchedMessage[T])
}
