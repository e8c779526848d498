package setfunc

import (
	"errors"
	"fmt"
)

var (
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	ErrUnknownFunction        = errors.New("unknown set function")
)

// IterationLimitError reports a fallback scan that hit its bound before the
// membership question was settled.
type IterationLimitError struct {
	Function  string
	Reference string
	Limit     int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("%s(%s): scanned %d zones without a decision: %v",
		e.Function, e.Reference, e.Limit, ErrIterationLimitExceeded)
}

func (e *IterationLimitError) Unwrap() error { return ErrIterationLimitExceeded }
