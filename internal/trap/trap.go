package trap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// InterruptKind is a cooperative control signal, not an error.
type InterruptKind uint8

const (
	// Interrupt is an explicit user cancellation.
	Interrupt InterruptKind = iota
	// Restart simulates a crash and forces a restart from the oplog.
	Restart
	// Suspend parks the worker gracefully.
	Suspend
	// Jump restarts the worker after a region of its oplog was deleted.
	Jump
)

func (k InterruptKind) String() string {
	switch k {
	case Interrupt:
		return "Interrupted via the executor API"
	case Restart:
		return "Simulated crash via the executor API"
	case Suspend:
		return "Suspended"
	case Jump:
		return "Jumping back in time"
	default:
		return fmt.Sprintf("InterruptKind(%d)", uint8(k))
	}
}

var interruptNames = map[InterruptKind]string{Interrupt: "interrupt", Restart: "restart", Suspend: "suspend", Jump: "jump"}

// Name is the short lowercase form used on the wire and in config.
func (k InterruptKind) Name() string { return interruptNames[k] }

// ParseInterruptKind is the inverse of Name.
func ParseInterruptKind(s string) (InterruptKind, error) {
	for k, n := range interruptNames {
		if n == s {
			return k, nil
		}
	}
	return Interrupt, fmt.Errorf("unknown interrupt kind %q", s)
}

// WorkerErrorKind enumerates classified program failures.
type WorkerErrorKind uint8

const (
	Unknown WorkerErrorKind = iota
	InvalidRequest
	StackOverflow
	OutOfMemory
)

var workerErrorNames = map[WorkerErrorKind]string{Unknown: "unknown", InvalidRequest: "invalid_request", StackOverflow: "stack_overflow", OutOfMemory: "out_of_memory"}

func (k WorkerErrorKind) String() string { return workerErrorNames[k] }

// WorkerError is a classified program failure. Message is only meaningful
// for Unknown and InvalidRequest.
type WorkerError struct {
	Kind    WorkerErrorKind
	Message string
}

func UnknownError(msg string) WorkerError { return WorkerError{Kind: Unknown, Message: msg} }
func InvalidRequestError(msg string) WorkerError {
	return WorkerError{Kind: InvalidRequest, Message: msg}
}
func StackOverflowError() WorkerError { return WorkerError{Kind: StackOverflow} }
func OutOfMemoryError() WorkerError   { return WorkerError{Kind: OutOfMemory} }

// String is the error description without logs.
func (e WorkerError) String() string { return e.ToString("") }

// ToString renders the error followed by the captured stderr, if any.
func (e WorkerError) ToString(stderr string) string {
	suffix := ""
	if stderr != "" {
		suffix = "\n\n" + stderr
	}
	switch e.Kind {
	case StackOverflow:
		return "Stack overflow" + suffix
	case OutOfMemory:
		return "Out of memory" + suffix
	default:
		return e.Message + suffix
	}
}

type workerErrorJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

func (e WorkerError) MarshalJSON() ([]byte, error) {
	return json.Marshal(workerErrorJSON{Kind: e.Kind.String(), Message: e.Message})
}

func (e *WorkerError) UnmarshalJSON(b []byte) error {
	var raw workerErrorJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, n := range workerErrorNames {
		if n == raw.Kind {
			*e = WorkerError{Kind: k, Message: raw.Message}
			return nil
		}
	}
	return fmt.Errorf("unknown worker error kind %q", raw.Kind)
}

// TypeTag discriminates TrapType.
type TypeTag uint8

const (
	TagInterrupt TypeTag = iota
	TagExit
	TagError
)

// TrapType is the classification of one failing invocation.
type TrapType struct {
	Tag       TypeTag
	Interrupt InterruptKind
	Error     WorkerError
}

func InterruptTrap(k InterruptKind) TrapType { return TrapType{Tag: TagInterrupt, Interrupt: k} }
func ExitTrap() TrapType                     { return TrapType{Tag: TagExit} }
func ErrorTrap(e WorkerError) TrapType       { return TrapType{Tag: TagError, Error: e} }

func (t TrapType) String() string {
	switch t.Tag {
	case TagInterrupt:
		return "Interrupt(" + t.Interrupt.Name() + ")"
	case TagExit:
		return "Exit"
	default:
		return "Error(" + t.Error.Kind.String() + ")"
	}
}

// ErrProcessExited is surfaced to callers of an exited worker.
var ErrProcessExited = errors.New("process exited")

// AsError is the error surfaced to callers for this trap, or nil for
// interrupts that are not user visible (restart, suspend, jump).
func (t TrapType) AsError(stderr string) error {
	switch t.Tag {
	case TagInterrupt:
		if t.Interrupt == Interrupt {
			return &InterruptedError{Kind: t.Interrupt}
		}
		return nil
	case TagExit:
		return ErrProcessExited
	default:
		return &ProgramError{Err: t.Error, Stderr: stderr}
	}
}

// InterruptedError reports an invocation cut short by an interrupt.
type InterruptedError struct {
	Kind InterruptKind
}

func (e *InterruptedError) Error() string { return e.Kind.String() }

// ProgramError carries a classified failure and the stderr captured with it.
type ProgramError struct {
	Err    WorkerError
	Stderr string
}

func (e *ProgramError) Error() string { return e.Err.ToString(e.Stderr) }
