package redelivery

// Kind is the classification of processing one message.
type Kind int

const (
	Success Kind = iota
	RetryableFailure
	NonRetryableFailure
	ConversionFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case NonRetryableFailure:
		return "non_retryable"
	case ConversionFailure:
		return "conversion"
	default:
		return "unknown"
	}
}

// Terminal reports whether a failure of this kind goes straight to recovery.
func (k Kind) Terminal() bool {
	return k == NonRetryableFailure || k == ConversionFailure
}

// Outcome is the tagged result for a single message.
type Outcome struct {
	Kind  Kind
	Cause error
	// Exhausted is set when a retryable failure ran out of retries and was
	// folded into recovery.
	Exhausted bool
}

// Succeeded returns the success outcome.
func Succeeded() Outcome { return Outcome{Kind: Success} }

// Failed builds a failure outcome of the given kind.
func Failed(kind Kind, cause error) Outcome { return Outcome{Kind: kind, Cause: cause} }

// OK reports whether the outcome is Success.
func (o Outcome) OK() bool { return o.Kind == Success }
