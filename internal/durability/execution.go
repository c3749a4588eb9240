package durability

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

const tracerName = "github.com/golemcloud/golem-sub031/internal/durability"

const replayBatch = 64

// Observer is notified of every durable operation. Optional.
type Observer interface {
	ObserveDurableCall(function string, live bool)
}

type noopObserver struct{}

func (noopObserver) ObserveDurableCall(string, bool) {}

// Options configures Open.
type Options struct {
	Store          oplog.Store
	Worker         model.WorkerID
	ComponentType  model.ComponentType
	DeletedRegions oplog.DeletedRegions
	// Level is the initial persistence level. Defaults to Smart.
	Level *PersistenceLevel
	// Interrupted is polled at every suspension point; a non-nil result
	// aborts the running operation. Optional.
	Interrupted func() error
	Tracer      trace.Tracer
	Observer    Observer
	Logger      log.Logger
}

// Execution is the durability state of one running worker instance: the
// replay cursor over its oplog and the current persistence level. It is
// owned by a single goroutine and is not safe for concurrent use.
type Execution struct {
	worker  model.WorkerID
	store   oplog.Store
	deleted oplog.DeletedRegions

	// cursor is the last index consumed; target is the last entry that has
	// to be replayed before the execution goes live.
	cursor oplog.Index
	target oplog.Index
	buf    []oplog.Record

	level       PersistenceLevel
	interrupted func() error
	tracer      trace.Tracer
	observer    Observer
	logger      log.Logger
}

// Invocation is an exported function call read back from the oplog.
type Invocation struct {
	Index          oplog.Index
	Function       string
	Request        json.RawMessage
	IdempotencyKey model.IdempotencyKey
}

// Open positions a new Execution at the start of the worker's oplog.
// Ephemeral workers start live at the tail.
func Open(ctx context.Context, opts Options) (*Execution, error) {
	e := &Execution{
		worker:      opts.Worker,
		store:       opts.Store,
		deleted:     opts.DeletedRegions,
		level:       Smart,
		interrupted: opts.Interrupted,
		tracer:      opts.Tracer,
		observer:    opts.Observer,
		logger:      opts.Logger,
	}
	if opts.Level != nil {
		e.level = *opts.Level
	}
	if e.interrupted == nil {
		e.interrupted = func() error { return nil }
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.logger == nil {
		e.logger = log.NewNopLogger()
	}

	tail, err := e.store.Tail(ctx, e.worker)
	if err != nil {
		return nil, fmt.Errorf("open execution of %s: %w", e.worker, err)
	}
	if opts.ComponentType == model.Ephemeral {
		e.cursor, e.target = tail, tail
		return e, nil
	}
	target, err := replayTarget(ctx, e.store, e.worker, e.deleted, tail)
	if err != nil {
		return nil, fmt.Errorf("open execution of %s: %w", e.worker, err)
	}
	e.target = target
	e.logger.Debug("execution opened",
		log.Str(log.WorkerIDKey, e.worker.String()),
		log.Uint64("tail", uint64(tail)),
		log.Uint64("replay_target", uint64(target)))
	return e, nil
}

// replayTarget scans backwards from tail for the last entry replay has to
// consume: not a hint, not a Create, not deleted.
func replayTarget(ctx context.Context, s oplog.Store, w model.WorkerID, deleted oplog.DeletedRegions, tail oplog.Index) (oplog.Index, error) {
	for idx := deleted.SkipBackward(tail); idx >= oplog.InitialIndex; idx = deleted.SkipBackward(idx - 1) {
		e, err := oplog.ReadOne(ctx, s, w, idx)
		if err != nil {
			return oplog.NoIndex, fmt.Errorf("read index %d: %w", idx, err)
		}
		if replayable(e.Kind) {
			return idx, nil
		}
	}
	return oplog.NoIndex, nil
}

func replayable(k oplog.Kind) bool { return !k.IsHint() && k != oplog.KindCreate }

func (e *Execution) Worker() model.WorkerID { return e.worker }

// IsLive reports whether every recorded entry has been replayed.
func (e *Execution) IsLive() bool { return e.cursor >= e.target }

// ReplayTarget returns the last index that is replayed before going live.
func (e *Execution) ReplayTarget() oplog.Index { return e.target }

// Cursor returns the last consumed oplog index.
func (e *Execution) Cursor() oplog.Index { return e.cursor }

func (e *Execution) PersistenceLevel() PersistenceLevel { return e.level }

func (e *Execution) SetPersistenceLevel(l PersistenceLevel) { e.level = l }

// WithPersistenceLevel runs fn at level l and restores the previous level.
func (e *Execution) WithPersistenceLevel(l PersistenceLevel, fn func() error) error {
	prev := e.level
	e.level = l
	defer func() { e.level = prev }()
	return fn()
}

// Checkpoint is a suspension point: it returns the pending interrupt, if any.
func (e *Execution) Checkpoint() error { return e.interrupted() }

// append writes entries after the tail and moves the cursor with it.
func (e *Execution) append(ctx context.Context, entries ...oplog.Entry) error {
	idx, err := e.store.Append(ctx, e.worker, entries...)
	if err != nil {
		return fmt.Errorf("append to oplog of %s: %w", e.worker, err)
	}
	e.cursor = idx
	if e.target < idx {
		e.target = idx
	}
	return nil
}

// nextReplay returns the next replayable entry at or before the replay
// target, skipping hints and deleted regions.
func (e *Execution) nextReplay(ctx context.Context, expected string) (oplog.Record, error) {
	for {
		if e.cursor >= e.target {
			return oplog.Record{}, &DivergenceError{Worker: e.worker, Index: e.cursor + 1, Expected: expected}
		}
		if len(e.buf) == 0 {
			from := e.deleted.SkipForward(e.cursor + 1)
			n := int(e.target-from) + 1
			if n > replayBatch {
				n = replayBatch
			}
			recs, err := e.store.Read(ctx, e.worker, from, n)
			if err != nil {
				return oplog.Record{}, fmt.Errorf("replay oplog of %s: %w", e.worker, err)
			}
			if len(recs) == 0 {
				return oplog.Record{}, &DivergenceError{Worker: e.worker, Index: from, Expected: expected}
			}
			e.buf = recs
		}
		rec := e.buf[0]
		e.buf = e.buf[1:]
		if rec.Index <= e.cursor {
			continue
		}
		e.cursor = rec.Index
		if e.deleted.IsDeleted(rec.Index) || !replayable(rec.Entry.Kind) {
			continue
		}
		return rec, nil
	}
}

// NextInvocation returns the next exported invocation to re-run. ok is false
// once the execution is live.
func (e *Execution) NextInvocation(ctx context.Context) (inv Invocation, ok bool, err error) {
	if e.IsLive() {
		return Invocation{}, false, nil
	}
	rec, err := e.nextReplay(ctx, oplog.KindExportedFunctionInvoked.String())
	if err != nil {
		return Invocation{}, false, err
	}
	if rec.Entry.Kind != oplog.KindExportedFunctionInvoked {
		return Invocation{}, false, &DivergenceError{Worker: e.worker, Index: rec.Index, Expected: oplog.KindExportedFunctionInvoked.String(), Found: rec.Entry.Kind.String()}
	}
	return Invocation{
		Index:          rec.Index,
		Function:       rec.Entry.FunctionName,
		Request:        rec.Entry.Request,
		IdempotencyKey: rec.Entry.IdempotencyKey,
	}, true, nil
}

// BeginInvocation records the start of a new exported invocation.
func (e *Execution) BeginInvocation(ctx context.Context, function string, request json.RawMessage, key model.IdempotencyKey) error {
	if !e.IsLive() {
		return ErrNotLive
	}
	return e.append(ctx, oplog.ExportedFunctionInvoked(function, request, key))
}

// CompleteInvocation records the result of the current exported invocation.
// During replay it consumes the recorded completion and returns the recorded
// response instead.
func (e *Execution) CompleteInvocation(ctx context.Context, response json.RawMessage) (json.RawMessage, error) {
	if e.IsLive() {
		if err := e.append(ctx, oplog.ExportedFunctionCompleted(response)); err != nil {
			return nil, err
		}
		return response, nil
	}
	rec, err := e.nextReplay(ctx, oplog.KindExportedFunctionCompleted.String())
	if err != nil {
		return nil, err
	}
	if rec.Entry.Kind != oplog.KindExportedFunctionCompleted {
		return nil, &DivergenceError{Worker: e.worker, Index: rec.Index, Expected: oplog.KindExportedFunctionCompleted.String(), Found: rec.Entry.Kind.String()}
	}
	return rec.Entry.Response, nil
}

// AppendHint records a hint entry such as Error or Interrupted. Hints never
// move the replay target.
func (e *Execution) AppendHint(ctx context.Context, entry oplog.Entry) error {
	if !entry.Kind.IsHint() {
		return fmt.Errorf("%s is not a hint entry", entry.Kind)
	}
	if _, err := e.store.Append(ctx, e.worker, entry); err != nil {
		return fmt.Errorf("append to oplog of %s: %w", e.worker, err)
	}
	return nil
}
