package durability

import (
	"errors"
	"fmt"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
)

// ErrNotLive is returned when a live-only operation is attempted while
// entries remain to be replayed.
var ErrNotLive = errors.New("execution is replaying")

// DivergenceError reports that replay found a different history than the
// program asked for. It is fatal: the worker cannot continue from its oplog.
type DivergenceError struct {
	Worker   model.WorkerID
	Index    oplog.Index
	Expected string
	Found    string
}

func (e *DivergenceError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("oplog divergence in worker %s at index %d: expected %s, found end of oplog", e.Worker, e.Index, e.Expected)
	}
	return fmt.Sprintf("oplog divergence in worker %s at index %d: expected %s, found %s", e.Worker, e.Index, e.Expected, e.Found)
}

// IsDivergence reports whether err is or wraps a DivergenceError.
func IsDivergence(err error) bool {
	var d *DivergenceError
	return errors.As(err, &d)
}

// RecordedError is the error a durable operation returns on replay when the
// live execution failed.
type RecordedError struct {
	Function string
	Message  string
}

func (e *RecordedError) Error() string { return e.Message }
