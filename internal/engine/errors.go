package engine

import "errors"

var (
	// ErrNumericFault reports NaN or Inf values observed in a logits
	// vector. It is distinguishable from sampling errors so callers can
	// tell a corrupt forward pass from a bad request.
	ErrNumericFault = errors.New("numeric fault: non-finite logits")

	// ErrSequenceTooLong reports a token position past the model's
	// maximum context length.
	ErrSequenceTooLong = errors.New("sequence exceeds maximum context length")
)
