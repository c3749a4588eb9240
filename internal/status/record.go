package status

import (
	"context"
	"fmt"
	"time"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/recovery"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// WorkerStatus is the externally visible state of a worker, derived from
// its oplog.
type WorkerStatus uint8

const (
	Idle WorkerStatus = iota
	Running
	Suspended
	Interrupted
	Retrying
	Failed
	Exited
)

var workerStatusNames = [...]string{"Idle", "Running", "Suspended", "Interrupted", "Retrying", "Failed", "Exited"}

func (s WorkerStatus) String() string {
	if int(s) < len(workerStatusNames) {
		return workerStatusNames[s]
	}
	return fmt.Sprintf("WorkerStatus(%d)", uint8(s))
}

func (s WorkerStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Record is the result of folding a worker's oplog.
type Record struct {
	Status           WorkerStatus
	ComponentVersion model.ComponentVersion
	ComponentType    model.ComponentType
	Args             []string
	Env              []model.EnvVar
	// OplogIdx is the last index folded into the record.
	OplogIdx       oplog.Index
	DeletedRegions oplog.DeletedRegions
	// RetryPolicy is set when a ChangeRetryPolicy entry overrides the default.
	RetryPolicy *model.RetryConfig
	// LastError is the most recent error when Status is Retrying or Failed.
	LastError *trap.WorkerError
	// Stderr accompanies LastError.
	Stderr string
	// ErrorCount is the number of consecutive Error entries at the tail.
	ErrorCount uint64
	// Fatal is set when the last error can not be retried.
	Fatal bool
	// PendingInvocation is the idempotency key of an invocation that was
	// started but not completed.
	PendingInvocation model.IdempotencyKey
	UpdatedAt         time.Time
}

// RetryConfig returns the override when present, else def.
func (r Record) RetryConfig(def model.RetryConfig) model.RetryConfig {
	if r.RetryPolicy != nil {
		return *r.RetryPolicy
	}
	return def
}

// Calculate folds the oplog of w into a Record. When prev is non-nil and
// the deleted regions are unchanged, only entries after prev.OplogIdx are
// read.
func Calculate(ctx context.Context, s oplog.Store, w model.WorkerID, def model.RetryConfig, prev *Record) (Record, error) {
	deleted, err := s.DeletedRegions(ctx, w)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if prev != nil && sameRegions(prev.DeletedRegions, deleted) {
		r = *prev
	}
	r.DeletedRegions = deleted

	const batch = 256
	from := r.OplogIdx + 1
	for {
		recs, err := s.Read(ctx, w, from, batch)
		if err != nil {
			return Record{}, fmt.Errorf("calculate status of %s: %w", w, err)
		}
		for _, rec := range recs {
			r.OplogIdx = rec.Index
			if deleted.IsDeleted(rec.Index) {
				continue
			}
			apply(&r, rec.Entry, def)
		}
		if len(recs) < batch {
			return r, nil
		}
		from = recs[len(recs)-1].Index + 1
	}
}

func apply(r *Record, e oplog.Entry, def model.RetryConfig) {
	if !e.Timestamp.IsZero() {
		r.UpdatedAt = e.Timestamp
	}
	if !e.Kind.IsHint() {
		r.ErrorCount = 0
		r.LastError = nil
		r.Stderr = ""
		r.Fatal = false
	}
	switch e.Kind {
	case oplog.KindCreate:
		r.Status = Idle
		r.ComponentVersion = e.ComponentVersion
		r.ComponentType = e.ComponentType
		r.Args = e.Args
		r.Env = e.Env
	case oplog.KindExportedFunctionInvoked:
		r.Status = Running
		r.PendingInvocation = e.IdempotencyKey
	case oplog.KindImportedFunctionInvoked:
		r.Status = Running
	case oplog.KindExportedFunctionCompleted:
		r.Status = Idle
		r.PendingInvocation = ""
	case oplog.KindSuspend:
		r.Status = Suspended
	case oplog.KindInterrupted:
		r.Status = Interrupted
	case oplog.KindExited:
		r.Status = Exited
	case oplog.KindJump:
		r.Status = Running
	case oplog.KindChangeRetryPolicy:
		r.RetryPolicy = e.RetryPolicy
	case oplog.KindError:
		if e.Error == nil {
			return
		}
		r.ErrorCount++
		r.LastError = e.Error
		r.Stderr = e.Stderr
		r.Fatal = r.Fatal || e.Fatal
		if !r.Fatal && recovery.IsRetriable(r.RetryConfig(def), *e.Error, r.ErrorCount) {
			r.Status = Retrying
		} else {
			r.Status = Failed
		}
	case oplog.KindNoOp:
	}
}

func sameRegions(a, b oplog.DeletedRegions) bool {
	ra, rb := a.Regions(), b.Regions()
	if len(ra) != len(rb) {
		return false
	}
	for i := range ra {
		if ra[i] != rb[i] {
			return false
		}
	}
	return true
}
