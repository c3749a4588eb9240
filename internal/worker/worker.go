package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/recovery"
	"github.com/golemcloud/golem-sub031/internal/rpc"
	"github.com/golemcloud/golem-sub031/internal/status"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

const (
	tracerName = "github.com/golemcloud/golem-sub031/internal/worker"

	defaultMaxCachedResults = 1024
)

// ComponentSource resolves program binaries.
type ComponentSource interface {
	Binary(ctx context.Context, id model.ComponentID, version model.ComponentVersion) ([]byte, error)
}

// Observer is notified of worker activity. Optional.
type Observer interface {
	durability.Observer
	ObserveInvocation(function string, elapsed time.Duration, err error)
	ObserveTrap(t trap.TrapType, d recovery.Decision)
}

type noopObserver struct{}

func (noopObserver) ObserveDurableCall(string, bool)                {}
func (noopObserver) ObserveInvocation(string, time.Duration, error) {}
func (noopObserver) ObserveTrap(trap.TrapType, recovery.Decision)   {}

// Deps are shared by every worker of an executor.
type Deps struct {
	Oplog oplog.Store
	Host  host.Host
	// Components is optional; without it instances get no binary.
	Components ComponentSource
	Proxy      rpc.Proxy
	Retry      model.RetryConfig
	MemorySize uint64
	// MaxCachedResults bounds the completed invocation results kept in
	// memory per worker; older ones are read back from the oplog.
	MaxCachedResults int
	Tracer           trace.Tracer
	Observer         Observer
	Logger           log.Logger
}

func (d Deps) withDefaults() *Deps {
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	if d.Observer == nil {
		d.Observer = noopObserver{}
	}
	if d.Logger == nil {
		d.Logger = log.NewNopLogger()
	}
	if d.Retry == (model.RetryConfig{}) {
		d.Retry = model.DefaultRetryConfig()
	}
	if d.MaxCachedResults <= 0 {
		d.MaxCachedResults = defaultMaxCachedResults
	}
	return &d
}

// Snapshot is a point-in-time view of a worker, safe to read from any
// goroutine.
type Snapshot struct {
	Worker model.WorkerID
	Phase  status.Phase
	// Active is set while an instance exists.
	Active     bool
	Record     status.Record
	Queued     int
	Busy       bool
	LastActive time.Time
	// RetryAt is the time of the next scheduled retry, if any.
	RetryAt time.Time
}

// Idle reports whether the worker can be evicted without losing work:
// nothing queued or in flight, no retry pending, and no instance that is
// still loading.
func (s Snapshot) Idle() bool {
	if s.Busy || s.Queued > 0 || !s.RetryAt.IsZero() {
		return false
	}
	return !s.Active || s.Phase == status.PhaseSuspended
}

// Worker supervises one worker. All of its state is owned by a single
// supervisor goroutine; the public methods send commands to it.
type Worker struct {
	id     model.WorkerID
	deps   *Deps
	logger log.Logger
	ctx    context.Context

	cmds     chan func()
	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}

	record status.Record
	exec   status.ExecutionStatus
	inst   *instance
	busy   *invocation
	queue  []*invocation
	// results holds pending invocations and the most recent completed ones,
	// oldest first in completed. Completions pushed out of the cache are
	// remembered by oplog index in evicted.
	results     map[model.IdempotencyKey]*Result
	completed   []completion
	evicted     map[model.IdempotencyKey]oplog.Index
	retry       *time.Timer
	retryAt     time.Time
	pendingJump *oplog.Index
	failed      *FailedError
	exited      bool
	stopping    bool
	lastActive  time.Time

	snapshot atomic.Pointer[Snapshot]
}

// Create appends the Create entry of a new worker.
func Create(ctx context.Context, s oplog.Store, id model.WorkerID, version model.ComponentVersion, ct model.ComponentType, args []string, env []model.EnvVar) error {
	tail, err := s.Tail(ctx, id)
	if err != nil {
		return fmt.Errorf("create worker %s: %w", id, err)
	}
	if tail != oplog.NoIndex {
		return fmt.Errorf("create worker %s: %w", id, ErrAlreadyExists)
	}
	if _, err := s.Append(ctx, id, oplog.Create(version, ct, args, env)); err != nil {
		return fmt.Errorf("create worker %s: %w", id, err)
	}
	return nil
}

// Load folds the worker's oplog and starts its supervisor. Workers that
// were running or retrying resume right away; the rest start on first use.
// The supervisor outlives ctx's deadline but stops when ctx is cancelled.
func Load(ctx context.Context, id model.WorkerID, deps Deps) (*Worker, error) {
	d := deps.withDefaults()
	tail, err := d.Oplog.Tail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load worker %s: %w", id, err)
	}
	if tail == oplog.NoIndex {
		return nil, fmt.Errorf("load worker %s: %w", id, ErrNotFound)
	}
	rec, err := status.Calculate(ctx, d.Oplog, id, d.Retry, nil)
	if err != nil {
		return nil, fmt.Errorf("load worker %s: %w", id, err)
	}

	w := &Worker{
		id:         id,
		deps:       d,
		logger:     d.Logger.With(log.Component("worker"), log.Str(log.WorkerIDKey, id.String())),
		ctx:        ctx,
		cmds:       make(chan func()),
		events:     make(chan event, 16),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		record:     rec,
		exec:       status.NewLoading(rec, rec.ComponentType),
		results:    make(map[model.IdempotencyKey]*Result),
		evicted:    make(map[model.IdempotencyKey]oplog.Index),
		lastActive: time.Now(),
	}
	switch rec.Status {
	case status.Failed:
		w.failed = w.failedError()
	case status.Exited:
		w.exited = true
	case status.Running, status.Retrying:
		last, err := recovery.ComputeLastError(ctx, d.Oplog, id, rec.DeletedRegions)
		if err != nil {
			return nil, fmt.Errorf("load worker %s: %w", id, err)
		}
		decision := recovery.DecideOnStartup(rec.RetryConfig(d.Retry), last)
		w.logger.Info("recovering worker",
			log.Str("status", rec.Status.String()),
			log.Str("decision", decision.String()))
		if decision.Kind == recovery.Immediate {
			w.start()
		} else if last != nil {
			w.failed = &FailedError{Worker: id, Err: last.Error, Stderr: last.Stderr}
		}
	}
	w.publish()
	go w.loop()
	return w, nil
}

func (w *Worker) ID() model.WorkerID { return w.id }

// Status returns the latest snapshot without waiting for the supervisor.
func (w *Worker) Status() Snapshot { return *w.snapshot.Load() }

// Done is closed once the supervisor has stopped.
func (w *Worker) Done() <-chan struct{} { return w.stopped }

// Invoke enqueues an invocation and returns its result handle. A key that
// was seen before returns the existing handle without running again.
func (w *Worker) Invoke(ctx context.Context, function string, request json.RawMessage, key model.IdempotencyKey) (*Result, error) {
	var res *Result
	err := w.call(ctx, func() error {
		if r, ok := w.results[key]; ok {
			res = r
			return nil
		}
		if idx, ok := w.evicted[key]; ok {
			e, err := oplog.ReadOne(w.ctx, w.deps.Oplog, w.id, idx)
			if err != nil {
				return err
			}
			res = newResult(key)
			res.resolve(e.Response, nil)
			return nil
		}
		if w.failed != nil {
			return w.failed
		}
		if w.exited {
			return ErrWorkerExited
		}
		res = newResult(key)
		w.results[key] = res
		w.queue = append(w.queue, &invocation{function: function, request: request, result: res})
		if w.inst == nil && w.retry == nil {
			w.start()
		}
		w.dispatch()
		return nil
	})
	return res, err
}

// InvokeAndAwait is Invoke followed by Result.Await.
func (w *Worker) InvokeAndAwait(ctx context.Context, function string, request json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error) {
	res, err := w.Invoke(ctx, function, request, key)
	if err != nil {
		return nil, err
	}
	return res.Await(ctx)
}

// Interrupt signals the running instance and waits until it has stopped.
func (w *Worker) Interrupt(ctx context.Context, kind trap.InterruptKind) error {
	var done <-chan struct{}
	err := w.call(ctx, func() error {
		if w.inst == nil {
			return ErrNotRunning
		}
		done = w.interrupt(kind)
		return nil
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// Resume starts an instance for a suspended, interrupted or retrying
// worker. A pending retry runs now.
func (w *Worker) Resume(ctx context.Context) error {
	return w.call(ctx, func() error {
		switch {
		case w.failed != nil:
			return w.failed
		case w.exited:
			return ErrWorkerExited
		case w.inst != nil:
			return nil
		}
		w.start()
		return nil
	})
}

// Jump deletes the oplog after target and restarts the worker from there.
// It also clears a permanent failure.
func (w *Worker) Jump(ctx context.Context, target oplog.Index) error {
	var done <-chan struct{}
	err := w.call(ctx, func() error {
		tail, err := w.deps.Oplog.Tail(w.ctx, w.id)
		if err != nil {
			return err
		}
		if target < oplog.InitialIndex || target >= tail {
			return fmt.Errorf("%w: %d is not in [%d, %d)", ErrInvalidJump, target, oplog.InitialIndex, tail)
		}
		w.pendingJump = &target
		if w.inst != nil {
			done = w.interrupt(trap.Jump)
			return nil
		}
		if err := w.applyJump(); err != nil {
			return err
		}
		w.start()
		return nil
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// SetRetryPolicy records a retry policy override for this worker.
func (w *Worker) SetRetryPolicy(ctx context.Context, cfg model.RetryConfig) error {
	return w.call(ctx, func() error {
		if err := w.append(oplog.ChangeRetryPolicy(cfg)); err != nil {
			return err
		}
		return w.refresh()
	})
}

// Stop suspends the running instance, if any, and shuts the supervisor
// down. Unfinished invocations are rejected with ErrStopped; recorded ones
// resume when the worker is loaded again.
func (w *Worker) Stop(ctx context.Context) error {
	w.requestStop()
	return wait(ctx, w.stopped)
}

// requestStop asks the supervisor to stop without waiting for it.
func (w *Worker) requestStop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func wait(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the supervisor goroutine.
func (w *Worker) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case w.cmds <- func() { errc <- fn() }:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.stopped)
	quit := w.quit
	for {
		var retryC <-chan time.Time
		if w.retry != nil {
			retryC = w.retry.C
		}
		select {
		case fn := <-w.cmds:
			fn()
		case <-quit:
			quit = nil
			w.stopping = true
			w.cancelRetry()
			if w.inst != nil {
				w.interrupt(trap.Suspend)
			}
		case ev := <-w.events:
			w.handle(ev)
		case <-retryC:
			w.retry, w.retryAt = nil, time.Time{}
			w.logger.Debug("retrying worker")
			w.start()
		case <-w.ctx.Done():
			w.stopping = true
			if w.inst != nil {
				w.inst.token.Cancel(trap.Restart)
				w.inst = nil
			}
		}
		if w.stopping && w.inst == nil {
			w.cancelRetry()
			w.rejectAll(ErrStopped)
			w.exec.Complete()
			w.publish()
			w.logger.Debug("worker stopped")
			return
		}
		w.publish()
	}
}

// start launches a new instance unless one is running or the worker can
// not run.
func (w *Worker) start() {
	if w.inst != nil || w.failed != nil || w.exited || w.stopping {
		return
	}
	w.cancelRetry()
	if err := w.refresh(); err != nil {
		w.logger.Error("refresh worker status", log.Err(err))
	}
	w.exec = w.exec.ToLoading(w.record)
	inst := &instance{
		token:   newToken(),
		work:    make(chan *invocation, 1),
		oneShot: w.record.ComponentType == model.Ephemeral,
	}
	w.inst = inst
	go w.run(inst, w.record)
}

func (w *Worker) refresh() error {
	rec, err := status.Calculate(w.ctx, w.deps.Oplog, w.id, w.deps.Retry, &w.record)
	if err != nil {
		return err
	}
	w.record = rec
	w.exec = w.exec.WithLastKnown(rec)
	return nil
}

func (w *Worker) cancelRetry() {
	if w.retry != nil {
		w.retry.Stop()
		w.retry, w.retryAt = nil, time.Time{}
	}
}

func (w *Worker) interrupt(kind trap.InterruptKind) <-chan struct{} {
	if next, err := w.exec.ToInterrupting(kind); err == nil {
		w.exec = next
	}
	w.inst.token.Cancel(kind)
	return w.exec.Done()
}

// dispatch hands the next queued invocation to an idle, ready instance.
// Invocations resolved by replay are dropped. Nothing is handed out while
// an interrupt is pending; queued work waits for the next instance.
func (w *Worker) dispatch() {
	if w.inst == nil || !w.inst.ready || w.busy != nil || w.inst.spent {
		return
	}
	if w.exec.Phase == status.Interrupting {
		return
	}
	for len(w.queue) > 0 {
		inv := w.queue[0]
		w.queue = w.queue[1:]
		if inv.result.isDone() {
			continue
		}
		w.busy = inv
		w.inst.spent = w.inst.oneShot
		if next, err := w.exec.ToRunning(); err == nil {
			w.exec = next
		}
		w.inst.work <- inv
		return
	}
	if next, err := w.exec.ToSuspended(); err == nil {
		w.exec = next
	}
}

func (w *Worker) handle(ev event) {
	if ev.inst != w.inst {
		return
	}
	switch ev.kind {
	case eventReady:
		w.inst.ready = true
		if next, err := w.exec.ToRunning(); err == nil {
			w.exec = next
		}
		w.dispatch()
	case eventCompleted:
		w.lastActive = time.Now()
		w.deps.Observer.ObserveInvocation(ev.function, ev.elapsed, nil)
		res, ok := w.results[ev.key]
		if !ok {
			res = newResult(ev.key)
			w.results[ev.key] = res
		}
		if !res.isDone() {
			w.remember(ev.key, ev.index)
		}
		if w.busy != nil && w.busy.result.Key == ev.key {
			w.busy = nil
		}
		if err := w.refresh(); err != nil {
			w.logger.Error("refresh worker status", log.Err(err))
		}
		w.dispatch()
		w.publish()
		res.resolve(ev.resp, nil)
	case eventClosed:
		w.inst = nil
		w.exec = w.exec.ToLoading(w.record)
		if len(w.queue) > 0 {
			w.start()
		}
	case eventTrapped:
		w.trapped(ev)
	}
}

func (w *Worker) trapped(ev event) {
	interrupting := w.exec
	w.inst = nil
	busy := w.busy
	w.busy = nil
	if busy != nil && !ev.begun {
		w.queue = append([]*invocation{busy}, w.queue...)
		busy = nil
	}

	tt := trap.ClassifyError(ev.err)
	fatal := durability.IsDivergence(ev.err)
	logger := w.logger.With(log.Str("trap", tt.String()))
	if busy != nil {
		w.deps.Observer.ObserveInvocation(ev.function, ev.elapsed, ev.err)
	}

	var entry *oplog.Entry
	switch {
	case fatal:
		e := oplog.FatalError(trap.UnknownError(ev.err.Error()), ev.stderr)
		entry = &e
	case tt.Tag == trap.TagInterrupt && tt.Interrupt == trap.Interrupt:
		e := oplog.Interrupted()
		entry = &e
	case tt.Tag == trap.TagInterrupt && tt.Interrupt == trap.Suspend:
		e := oplog.Suspend()
		entry = &e
	case tt.Tag == trap.TagExit:
		e := oplog.Exited()
		entry = &e
	case tt.Tag == trap.TagError:
		e := oplog.Error(tt.Error, ev.stderr)
		entry = &e
	}
	if entry != nil {
		if err := w.append(*entry); err != nil {
			logger.Error("record trap", log.Err(err))
		}
	}
	jumped := false
	if w.pendingJump != nil {
		if err := w.applyJump(); err != nil {
			logger.Error("jump", log.Err(err))
		} else {
			jumped = true
		}
	}
	if err := w.refresh(); err != nil {
		logger.Error("refresh worker status", log.Err(err))
	}
	w.exec = w.exec.ToLoading(w.record)

	decision := recovery.Decision{Kind: recovery.None}
	ephemeral := w.record.ComponentType == model.Ephemeral
	switch {
	case fatal:
		logger.Error("replay diverged", log.Err(ev.err))
		w.failed = w.failedError()
	case tt.Tag == trap.TagExit:
		w.exited = true
	case ephemeral:
		if busy != nil {
			busy.result.resolve(nil, trapError(tt, ev.stderr))
		}
		if len(w.queue) > 0 {
			decision.Kind = recovery.Immediate
		}
	default:
		var count uint64
		if tt.Tag == trap.TagError {
			last, err := recovery.ComputeLastError(w.ctx, w.deps.Oplog, w.id, w.record.DeletedRegions)
			if err != nil {
				logger.Error("compute last error", log.Err(err))
			} else if last != nil {
				count = last.RetryCount
			}
		}
		decision = recovery.DecideOnTrap(w.record.RetryConfig(w.deps.Retry), tt, count)
		if tt.Tag == trap.TagError && decision.Kind == recovery.None {
			w.failed = w.failedError()
		}
	}
	if jumped {
		decision.Kind = recovery.Immediate
	}
	w.deps.Observer.ObserveTrap(tt, decision)
	logger.Info("worker trapped", log.Str("decision", decision.String()), log.Err(ev.err))

	if w.failed == nil && !w.exited && !w.stopping {
		switch decision.Kind {
		case recovery.Immediate:
			w.start()
		case recovery.Delayed:
			w.retryAt = time.Now().Add(decision.Delay)
			w.retry = time.NewTimer(decision.Delay)
		}
	}
	w.publish()

	if busy != nil && tt.Tag == trap.TagInterrupt && (tt.Interrupt == trap.Interrupt || tt.Interrupt == trap.Jump) {
		busy.result.resolve(nil, &trap.InterruptedError{Kind: tt.Interrupt})
	}
	switch {
	case w.failed != nil:
		w.rejectAll(w.failed)
	case w.exited:
		w.rejectAll(ErrWorkerExited)
	}
	interrupting.Complete()
}

type completion struct {
	key   model.IdempotencyKey
	index oplog.Index
}

// remember records a completion and moves the oldest cached results out of
// memory once there are more than MaxCachedResults.
func (w *Worker) remember(key model.IdempotencyKey, index oplog.Index) {
	delete(w.evicted, key)
	w.completed = append(w.completed, completion{key: key, index: index})
	for len(w.completed) > w.deps.MaxCachedResults {
		old := w.completed[0]
		w.completed = w.completed[1:]
		if res, ok := w.results[old.key]; ok && res.isDone() && res.err == nil {
			delete(w.results, old.key)
			w.evicted[old.key] = old.index
		}
	}
}

func trapError(tt trap.TrapType, stderr string) error {
	if err := tt.AsError(stderr); err != nil {
		return err
	}
	return &trap.InterruptedError{Kind: tt.Interrupt}
}

func (w *Worker) failedError() *FailedError {
	f := &FailedError{Worker: w.id, Err: trap.UnknownError("unknown failure"), Stderr: w.record.Stderr}
	if w.record.LastError != nil {
		f.Err = *w.record.LastError
	}
	return f
}

// applyJump deletes everything after the pending target and records the
// jump.
func (w *Worker) applyJump() error {
	target := *w.pendingJump
	w.pendingJump = nil
	tail, err := w.deps.Oplog.Tail(w.ctx, w.id)
	if err != nil {
		return err
	}
	region := oplog.Region{Start: target.Next(), End: tail.Next()}
	if err := w.deps.Oplog.MarkDeleted(w.ctx, w.id, region); err != nil {
		return err
	}
	if err := w.append(oplog.Jump(region)); err != nil {
		return err
	}
	w.failed = nil
	w.exited = false
	for key, res := range w.results {
		if res.isDone() && res.err != nil {
			delete(w.results, key)
		}
	}
	w.logger.Info("jumped", log.Str("deleted", region.String()))
	return nil
}

func (w *Worker) append(e oplog.Entry) error {
	if _, err := w.deps.Oplog.Append(w.ctx, w.id, e); err != nil {
		return fmt.Errorf("append to oplog of %s: %w", w.id, err)
	}
	return nil
}

// rejectAll resolves every unfinished invocation with err.
func (w *Worker) rejectAll(err error) {
	if w.busy != nil {
		w.busy.result.resolve(nil, err)
		w.busy = nil
	}
	for _, inv := range w.queue {
		inv.result.resolve(nil, err)
	}
	w.queue = nil
	for _, res := range w.results {
		res.resolve(nil, err)
	}
}

func (w *Worker) publish() {
	s := &Snapshot{
		Worker:     w.id,
		Phase:      w.exec.Phase,
		Active:     w.inst != nil,
		Record:     w.record,
		Queued:     len(w.queue),
		Busy:       w.busy != nil,
		LastActive: w.lastActive,
		RetryAt:    w.retryAt,
	}
	w.snapshot.Store(s)
}
