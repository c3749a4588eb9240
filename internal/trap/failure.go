package trap

import (
	"errors"
	"fmt"
)

// FailureKind tags a raw failure produced at the program host boundary.
type FailureKind uint8

const (
	// FailureOther is any failure without a more specific marker.
	FailureOther FailureKind = iota
	FailureInterrupted
	FailureExited
	FailureStackOverflow
	FailureOutOfMemory
	FailureInvalidRequest
)

// Failure is the tagged error the program host returns. Hosts construct it
// directly instead of leaving the classifier to inspect foreign error types.
type Failure struct {
	Kind      FailureKind
	Interrupt InterruptKind
	ExitCode  uint32
	Details   string
	Cause     error
}

func (f *Failure) Error() string {
	var msg string
	switch f.Kind {
	case FailureInterrupted:
		msg = f.Interrupt.String()
	case FailureExited:
		msg = fmt.Sprintf("program exited with code %d", f.ExitCode)
	case FailureStackOverflow:
		msg = "stack overflow"
	case FailureOutOfMemory:
		msg = "out of memory"
	case FailureInvalidRequest:
		msg = "invalid request: " + f.Details
	default:
		msg = f.Details
	}
	if f.Cause != nil {
		if msg == "" {
			return f.Cause.Error()
		}
		return msg + ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Cause }

func Interrupted(k InterruptKind) *Failure { return &Failure{Kind: FailureInterrupted, Interrupt: k} }
func Exited(code uint32) *Failure          { return &Failure{Kind: FailureExited, ExitCode: code} }
func StackOverflowed(cause error) *Failure { return &Failure{Kind: FailureStackOverflow, Cause: cause} }
func OutOfMemoryFailure(cause error) *Failure {
	return &Failure{Kind: FailureOutOfMemory, Cause: cause}
}
func InvalidRequestFailure(details string) *Failure {
	return &Failure{Kind: FailureInvalidRequest, Details: details}
}

// rank orders markers by classification priority; lower wins.
func rank(k FailureKind) int {
	switch k {
	case FailureInterrupted:
		return 0
	case FailureExited:
		return 1
	case FailureStackOverflow:
		return 2
	case FailureOutOfMemory:
		return 3
	case FailureInvalidRequest:
		return 4
	default:
		return 5
	}
}

// FromError folds an arbitrary error into a single Failure. Every Failure
// marker in the chain is considered and the highest priority one wins; an
// error with no marker becomes FailureOther carrying the full chain text.
func FromError(err error) Failure {
	if err == nil {
		return Failure{Kind: FailureOther}
	}
	best := Failure{Kind: FailureOther, Details: err.Error()}
	walk(err, func(e error) {
		if f, ok := e.(*Failure); ok && f.Kind != FailureOther && rank(f.Kind) < rank(best.Kind) {
			best = *f
			if best.Kind != FailureInvalidRequest {
				best.Details = err.Error()
			}
		}
	})
	return best
}

func walk(err error, visit func(error)) {
	for err != nil {
		visit(err)
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner, visit)
			}
			return
		default:
			err = errors.Unwrap(err)
		}
	}
}

// Classify maps a Failure to its TrapType. It is total.
func Classify(f Failure) TrapType {
	switch f.Kind {
	case FailureInterrupted:
		return InterruptTrap(f.Interrupt)
	case FailureExited:
		return ExitTrap()
	case FailureStackOverflow:
		return ErrorTrap(StackOverflowError())
	case FailureOutOfMemory:
		return ErrorTrap(OutOfMemoryError())
	case FailureInvalidRequest:
		return ErrorTrap(InvalidRequestError(f.Details))
	default:
		return ErrorTrap(UnknownError(f.Details))
	}
}

// ClassifyError is Classify(FromError(err)).
func ClassifyError(err error) TrapType { return Classify(FromError(err)) }
