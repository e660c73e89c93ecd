package redelivery_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/illmade-knight/go-redelivery/pkg/redelivery"
	"github.com/stretchr/testify/assert"
)

var errTimeout = errors.New("timeout")

func TestDefaultClassifier(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected redelivery.Kind
	}{
		{"nil is success", nil, redelivery.Success},
		{"plain error is permanent", errors.New("boom"), redelivery.NonRetryableFailure},
		{"retryable wrapper", redelivery.Retryable(errors.New("busy")), redelivery.RetryableFailure},
		{"wrapped retryable wrapper", fmt.Errorf("saving: %w", redelivery.Retryable(errors.New("busy"))), redelivery.RetryableFailure},
		{"retryable sentinel", fmt.Errorf("db: %w", redelivery.ErrRetryable), redelivery.RetryableFailure},
		{"conversion error", &redelivery.ConversionError{Topic: "t", Err: errors.New("bad json")}, redelivery.ConversionFailure},
		{"invalid wins over retryable", redelivery.Retryable(redelivery.Invalid("negative")), redelivery.NonRetryableFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := redelivery.DefaultClassifier.Classify(tc.err)
			assert.Equal(t, tc.expected, out.Kind)
			assert.Equal(t, tc.err, out.Cause)
		})
	}
}

func TestRetryOn(t *testing.T) {
	classifier := redelivery.RetryOn(errTimeout)

	assert.Equal(t, redelivery.RetryableFailure, classifier.Classify(fmt.Errorf("call: %w", errTimeout)).Kind)
	assert.Equal(t, redelivery.NonRetryableFailure, classifier.Classify(errors.New("other")).Kind)
	assert.Equal(t, redelivery.Success, classifier.Classify(nil).Kind)
}

func TestKind_Terminal(t *testing.T) {
	assert.True(t, redelivery.ConversionFailure.Terminal())
	assert.True(t, redelivery.NonRetryableFailure.Terminal())
	assert.False(t, redelivery.RetryableFailure.Terminal())
	assert.Equal(t, "non_retryable", redelivery.NonRetryableFailure.String())
}
