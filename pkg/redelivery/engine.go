package redelivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-redelivery/pkg/types"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the batch redelivery engine: it drives a handler over a
// shrinking working set of one batch and decides, per invocation, whether to
// commit, retry after a backoff, or hand the failing message to a Recoverer.
// ====================================================================================

// Handler processes one decoded message. Returning an error reports a failure
// that the engine's Classifier turns into an Outcome.
type Handler[T any] interface {
	Handle(ctx context.Context, msg types.BatchedMessage[T]) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as a Handler.
type HandlerFunc[T any] func(ctx context.Context, msg types.BatchedMessage[T]) error

func (fn HandlerFunc[T]) Handle(ctx context.Context, msg types.BatchedMessage[T]) error {
	return fn(ctx, msg)
}

// Validator rejects decoded payloads that are structurally valid but unacceptable.
type Validator[T any] func(payload *T) error

// Recoverer quarantines a message that will not be processed. A returned error
// is fatal for the partition.
type Recoverer[T any] interface {
	Recover(ctx context.Context, msg types.BatchedMessage[T], outcome Outcome) error
}

// Committer commits the consumer position through msg, inclusive.
type Committer interface {
	Commit(ctx context.Context, msg types.ConsumedMessage) error
}

// CommitterFunc is an adapter to allow the use of ordinary functions as a Committer.
type CommitterFunc func(ctx context.Context, msg types.ConsumedMessage) error

func (fn CommitterFunc) Commit(ctx context.Context, msg types.ConsumedMessage) error {
	return fn(ctx, msg)
}

// State is a step of the per-batch state machine.
type State int

const (
	StateProcessing State = iota
	StateEvaluating
	StateAllSucceeded
	StateRetrying
	StateRecovering
	StateDone
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateEvaluating:
		return "evaluating"
	case StateAllSucceeded:
		return "all_succeeded"
	case StateRetrying:
		return "retrying"
	case StateRecovering:
		return "recovering"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EngineConfig wires the collaborators of an Engine. Handler, Recoverer and
// Committer are required.
type EngineConfig[T any] struct {
	Handler    Handler[T]
	Recoverer  Recoverer[T]
	Committer  Committer
	Classifier Classifier
	Validator  Validator[T]
	Backoff    BackoffPolicy
	Tracker    *AttemptTracker[T]
	Metrics    *Metrics
}

// Engine runs batches to completion. It holds no per-batch state, so one
// Engine can serve many partitions concurrently; each Process call owns its
// working set and retry counter.
type Engine[T any] struct {
	handler    Handler[T]
	recoverer  Recoverer[T]
	committer  Committer
	classifier Classifier
	validator  Validator[T]
	backoff    BackoffPolicy
	tracker    *AttemptTracker[T]
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewEngine creates an Engine, defaulting the classifier, backoff policy and
// tracker when they are not supplied.
func NewEngine[T any](cfg EngineConfig[T], logger zerolog.Logger) (*Engine[T], error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if cfg.Recoverer == nil {
		return nil, errors.New("recoverer cannot be nil")
	}
	if cfg.Committer == nil {
		return nil, errors.New("committer cannot be nil")
	}
	e := &Engine[T]{
		handler:    cfg.Handler,
		recoverer:  cfg.Recoverer,
		committer:  cfg.Committer,
		classifier: cfg.Classifier,
		validator:  cfg.Validator,
		backoff:    cfg.Backoff,
		tracker:    cfg.Tracker,
		metrics:    cfg.Metrics,
		logger:     logger.With().Str("component", "BatchRedeliveryEngine").Logger(),
	}
	if e.classifier == nil {
		e.classifier = DefaultClassifier
	}
	if e.backoff == nil {
		e.backoff = DefaultBackoff()
	}
	if e.tracker == nil {
		e.tracker = NewAttemptTracker[T]()
	}
	return e, nil
}

// Tracker returns the attempt tracker observing this engine.
func (e *Engine[T]) Tracker() *AttemptTracker[T] {
	return e.tracker
}

// batchRun is the mutable state of one batch moving through the engine.
type batchRun[T any] struct {
	working  types.Batch[T]
	retries  int
	failedAt int
	outcome  Outcome
	delay    time.Duration
	logger   zerolog.Logger
}

// Process drives one batch through processing, retries and recovery until every
// message is either committed or quarantined.
//
// It returns ctx.Err() if ctx is cancelled before the batch resolves; nothing
// past the last resolved message is committed in that case. A handler failure
// observed once ctx is done is never recovered, since it may be the shutdown
// itself. An error wrapping
// ErrRecovererFailure means a message could not be quarantined and the
// partition must stop.
func (e *Engine[T]) Process(ctx context.Context, batch types.Batch[T]) error {
	if len(batch) == 0 {
		return nil
	}
	first := batch[0].OriginalMessage
	run := &batchRun[T]{
		working:  batch,
		failedAt: -1,
		logger: e.logger.With().
			Str("topic", first.Topic).
			Int32("partition", first.Partition).
			Int64("first_offset", first.Offset).
			Int("batch_size", len(batch)).
			Logger(),
	}
	topic := first.Topic

	state := StateProcessing
	for {
		switch state {
		case StateProcessing:
			if err := ctx.Err(); err != nil {
				run.logger.Warn().Int("unresolved", len(run.working)).Msg("Shutdown before batch resolved, leaving remainder uncommitted.")
				return err
			}
			e.invoke(ctx, run)
			e.metrics.attempt(topic)
			if err := ctx.Err(); err != nil && run.failedAt >= 0 {
				// A failure seen after shutdown may have been caused by it.
				run.logger.Warn().
					Err(run.outcome.Cause).
					Int64("offset", run.working[run.failedAt].OriginalMessage.Offset).
					Int("unresolved", len(run.working)).
					Msg("Shutdown during handler invocation, leaving working set uncommitted.")
				return err
			}
			state = StateEvaluating

		case StateEvaluating:
			state = e.evaluate(run)

		case StateAllSucceeded:
			last := run.working.Last().OriginalMessage
			if err := e.commit(ctx, last); err != nil {
				return err
			}
			e.metrics.commit(topic, len(run.working))
			run.logger.Debug().Int64("offset", last.Offset).Msg("Working set succeeded, offsets committed.")
			run.working = nil
			state = StateDone

		case StateRetrying:
			if run.failedAt > 0 {
				done := run.working[run.failedAt-1].OriginalMessage
				if err := e.commit(ctx, done); err != nil {
					return err
				}
				e.metrics.commit(topic, run.failedAt)
			}
			run.working = run.working[run.failedAt:]
			run.retries++
			e.metrics.retry(topic, run.delay)
			run.logger.Info().
				Err(run.outcome.Cause).
				Int64("offset", run.working[0].OriginalMessage.Offset).
				Int("retry", run.retries).
				Dur("delay", run.delay).
				Msg("Retryable failure, redelivering working set after backoff.")
			if err := wait(ctx, run.delay); err != nil {
				run.logger.Warn().Int("unresolved", len(run.working)).Msg("Backoff interrupted by shutdown, leaving remainder uncommitted.")
				return err
			}
			state = StateProcessing

		case StateRecovering:
			failed := run.working[run.failedAt]
			if err := e.recover(ctx, run, failed); err != nil {
				return err
			}
			if err := e.commit(ctx, failed.OriginalMessage); err != nil {
				return err
			}
			e.metrics.commit(topic, run.failedAt+1)
			run.working = run.working[run.failedAt+1:]
			run.retries = 0
			if len(run.working) == 0 {
				state = StateDone
			} else {
				state = StateProcessing
			}

		case StateDone:
			run.logger.Debug().Msg("Batch done.")
			return nil
		}
	}
}

// ProcessOne handles a single delivered message as a batch of one.
func (e *Engine[T]) ProcessOne(ctx context.Context, msg types.BatchedMessage[T]) error {
	return e.Process(ctx, types.Batch[T]{msg})
}

// invoke records the working set and runs the handler left to right, stopping
// at the first message that does not succeed.
func (e *Engine[T]) invoke(ctx context.Context, run *batchRun[T]) {
	seq := e.tracker.Record(run.working)
	run.logger.Debug().Int("attempt", seq).Int("working_set", len(run.working)).Msg("Invoking handler over working set.")

	run.failedAt = -1
	run.outcome = Succeeded()
	for i, msg := range run.working {
		out := e.outcomeFor(ctx, msg)
		if !out.OK() {
			run.failedAt = i
			run.outcome = out
			return
		}
	}
}

func (e *Engine[T]) outcomeFor(ctx context.Context, msg types.BatchedMessage[T]) Outcome {
	if !msg.Decoded() {
		return Failed(ConversionFailure, &ConversionError{
			Topic:  msg.OriginalMessage.Topic,
			Offset: msg.OriginalMessage.Offset,
			Err:    msg.DecodeErr,
		})
	}
	if e.validator != nil {
		if err := e.validator(msg.Payload); err != nil {
			if !errors.Is(err, ErrInvalid) {
				err = fmt.Errorf("%w: %w", ErrInvalid, err)
			}
			return Failed(NonRetryableFailure, err)
		}
	}
	return e.classifier.Classify(e.handle(ctx, msg))
}

func (e *Engine[T]) handle(ctx context.Context, msg types.BatchedMessage[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return e.handler.Handle(ctx, msg)
}

func (e *Engine[T]) evaluate(run *batchRun[T]) State {
	if run.failedAt < 0 {
		return StateAllSucceeded
	}
	if run.outcome.Kind != RetryableFailure {
		return StateRecovering
	}
	delay, ok := e.backoff.Next(run.retries)
	if !ok {
		run.outcome.Exhausted = true
		run.logger.Warn().
			Int64("offset", run.working[run.failedAt].OriginalMessage.Offset).
			Int("retries", run.retries).
			Msg("Retries exhausted, recovering message.")
		return StateRecovering
	}
	run.delay = delay
	return StateRetrying
}

func (e *Engine[T]) recover(ctx context.Context, run *batchRun[T], msg types.BatchedMessage[T]) error {
	original := msg.OriginalMessage
	run.logger.Warn().
		Err(run.outcome.Cause).
		Int64("offset", original.Offset).
		Str("kind", run.outcome.Kind.String()).
		Bool("exhausted", run.outcome.Exhausted).
		Msg("Sending message to dead-letter destination.")

	if err := e.recoverer.Recover(ctx, msg, run.outcome); err != nil {
		run.logger.Error().Err(err).Int64("offset", original.Offset).Msg("Dead-letter recovery failed, stopping partition.")
		if errors.Is(err, ErrRecovererFailure) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrRecovererFailure, original.ID, err)
	}
	e.metrics.recover(original.Topic, run.outcome.Kind)
	return nil
}

func (e *Engine[T]) commit(ctx context.Context, msg types.ConsumedMessage) error {
	if err := e.committer.Commit(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
