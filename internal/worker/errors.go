package worker

import (
	"errors"
	"fmt"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

var (
	// ErrNotFound is returned for workers without an oplog.
	ErrNotFound = errors.New("worker not found")
	// ErrAlreadyExists is returned by Create for a worker that has an oplog.
	ErrAlreadyExists = errors.New("worker already exists")
	// ErrStopped is returned once the worker's supervisor has shut down.
	ErrStopped = errors.New("worker stopped")
	// ErrNotRunning is returned when an operation needs a live instance.
	ErrNotRunning = errors.New("worker is not running")
	// ErrRegistryFull is returned when no idle worker can be evicted.
	ErrRegistryFull = errors.New("too many active workers")
	// ErrWorkerExited is returned for invocations of a worker whose program
	// exited.
	ErrWorkerExited = trap.ErrProcessExited
	// ErrInvalidJump is returned for jump targets outside the oplog.
	ErrInvalidJump = errors.New("invalid jump target")
)

// FailedError is returned for every invocation of a worker that failed
// permanently. Only a jump clears it.
type FailedError struct {
	Worker model.WorkerID
	Err    trap.WorkerError
	Stderr string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("worker %s failed: %s", e.Worker, e.Err.ToString(e.Stderr))
}

// Unwrap exposes the program error so callers can use errors.As on
// trap.ProgramError.
func (e *FailedError) Unwrap() error { return &trap.ProgramError{Err: e.Err, Stderr: e.Stderr} }

// IsFailed reports whether err is a FailedError.
func IsFailed(err error) bool {
	var f *FailedError
	return errors.As(err, &f)
}
