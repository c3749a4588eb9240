package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// LastError is the error state of a worker derived from the tail of its
// oplog. It is never stored on its own.
type LastError struct {
	Error  trap.WorkerError
	Stderr string
	// RetryCount is the number of consecutive Error entries since the last
	// successful progress.
	RetryCount uint64
	// Fatal marks errors no retry can fix.
	Fatal bool
}

func (e *LastError) String() string {
	return fmt.Sprintf("%s (retry count %d)", e.Error.ToString(e.Stderr), e.RetryCount)
}

// ComputeLastError scans the oplog backwards from the tail. Error entries
// are counted, other hints are passed over and the first non-hint entry ends
// the scan. Deleted regions are skipped. It returns nil when the tail holds
// no error.
func ComputeLastError(ctx context.Context, s oplog.Store, w model.WorkerID, deleted oplog.DeletedRegions) (*LastError, error) {
	tail, err := s.Tail(ctx, w)
	if err != nil {
		return nil, err
	}
	var last *LastError
	for idx := deleted.SkipBackward(tail); idx >= oplog.InitialIndex; idx = deleted.SkipBackward(idx - 1) {
		e, err := oplog.ReadOne(ctx, s, w, idx)
		if err != nil {
			return nil, fmt.Errorf("compute last error of %s: %w", w, err)
		}
		if !e.Kind.IsHint() {
			break
		}
		if e.Kind != oplog.KindError || e.Error == nil {
			continue
		}
		if last == nil {
			last = &LastError{Error: *e.Error, Stderr: e.Stderr, Fatal: e.Fatal}
		}
		last.RetryCount++
	}
	return last, nil
}

// IsRetriable reports whether a worker failing with err after retryCount
// consecutive failures may be attempted again. StackOverflow and
// InvalidRequest are deterministic and never retried.
func IsRetriable(cfg model.RetryConfig, err trap.WorkerError, retryCount uint64) bool {
	switch err.Kind {
	case trap.Unknown, trap.OutOfMemory:
		return retryCount <= uint64(cfg.MaxAttempts)
	default:
		return false
	}
}

// Retriable applies IsRetriable to a computed LastError.
func (e *LastError) Retriable(cfg model.RetryConfig) bool {
	return e != nil && !e.Fatal && IsRetriable(cfg, e.Error, e.RetryCount)
}

// DecisionKind tells the worker supervisor what to do after a failure.
type DecisionKind uint8

const (
	// None leaves the worker as it is.
	None DecisionKind = iota
	// Immediate restarts the worker right away.
	Immediate
	// Delayed restarts the worker after Decision.Delay.
	Delayed
)

func (k DecisionKind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Delayed:
		return "delayed"
	default:
		return "none"
	}
}

type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

func (d Decision) String() string {
	if d.Kind == Delayed {
		return fmt.Sprintf("delayed(%s)", d.Delay)
	}
	return d.Kind.String()
}

// DecideOnTrap decides how to continue after an invocation trapped.
// retryCount includes the failure being decided on.
func DecideOnTrap(cfg model.RetryConfig, t trap.TrapType, retryCount uint64) Decision {
	switch t.Tag {
	case trap.TagInterrupt:
		switch t.Interrupt {
		case trap.Restart, trap.Jump:
			return Decision{Kind: Immediate}
		default:
			return Decision{Kind: None}
		}
	case trap.TagExit:
		return Decision{Kind: None}
	default:
		if IsRetriable(cfg, t.Error, retryCount) {
			return Decision{Kind: Delayed, Delay: Delay(cfg, retryCount)}
		}
		return Decision{Kind: None}
	}
}

// DecideOnStartup decides whether a worker found in the oplog at executor
// startup is resumed.
func DecideOnStartup(cfg model.RetryConfig, last *LastError) Decision {
	if last == nil || last.Retriable(cfg) {
		return Decision{Kind: Immediate}
	}
	return Decision{Kind: None}
}

// Delay returns the wait before retry number retryCount (starting at 1):
// MinDelay grown by Multiplier per retry, capped at MaxDelay, with up to
// MaxJitterFactor random jitter.
func Delay(cfg model.RetryConfig, retryCount uint64) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.MinDelay,
		RandomizationFactor: cfg.MaxJitterFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxDelay,
	}
	b.Reset()
	d := cfg.MinDelay
	for i := uint64(0); i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
