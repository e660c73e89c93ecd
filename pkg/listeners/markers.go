package listeners

// Payload markers that make the demo listeners fail on purpose.
const (
	// MarkerFailRetry fails with a transient error on every attempt.
	MarkerFailRetry = "Fail & Retry"
	// MarkerFail fails permanently.
	MarkerFail = "Fail"
)
