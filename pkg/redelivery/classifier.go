package redelivery

import (
	"errors"
)

// Classifier maps an opaque handler error to an Outcome.
type Classifier interface {
	Classify(err error) Outcome
}

// ClassifierFunc is an adapter to allow the use of ordinary functions as a Classifier.
type ClassifierFunc func(err error) Outcome

func (fn ClassifierFunc) Classify(err error) Outcome {
	return fn(err)
}

// DefaultClassifier treats errors marked with ErrRetryable as transient,
// ConversionError as a conversion failure and everything else as permanent.
var DefaultClassifier Classifier = ClassifierFunc(classifyDefault)

func classifyDefault(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return Failed(ConversionFailure, err)
	}
	// Validation wins over a retryable marker: the same payload never becomes valid.
	if errors.Is(err, ErrInvalid) {
		return Failed(NonRetryableFailure, err)
	}
	if errors.Is(err, ErrRetryable) {
		return Failed(RetryableFailure, err)
	}
	return Failed(NonRetryableFailure, err)
}

// RetryOn returns a classifier that treats errors matching any of targets as
// retryable in addition to the default rules.
func RetryOn(targets ...error) Classifier {
	return ClassifierFunc(func(err error) Outcome {
		out := classifyDefault(err)
		if out.Kind != NonRetryableFailure || errors.Is(err, ErrInvalid) {
			return out
		}
		for _, target := range targets {
			if errors.Is(err, target) {
				return Failed(RetryableFailure, err)
			}
		}
		return out
	})
}
