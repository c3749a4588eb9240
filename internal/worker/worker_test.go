package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/status"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

type fixture struct {
	ctx   context.Context
	store *oplog.MemoryStore
	host  *host.NativeHost
	deps  Deps
	id    model.WorkerID
}

func testRetry() model.RetryConfig {
	return model.RetryConfig{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newFixture(t *testing.T, p host.Program, ct model.ComponentType) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := oplog.NewMemoryStore()
	h := host.NewNativeHost()
	id := model.WorkerID{ComponentID: model.NewComponentID(), WorkerName: "worker-1"}
	h.Register(id.ComponentID, p)
	require.NoError(t, Create(ctx, store, id, 0, ct, nil, nil))
	return &fixture{
		ctx:   ctx,
		store: store,
		host:  h,
		deps:  Deps{Oplog: store, Host: h, Retry: testRetry()},
		id:    id,
	}
}

func (f *fixture) load(t *testing.T) *Worker {
	t.Helper()
	w, err := Load(f.ctx, f.id, f.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func (f *fixture) last(t *testing.T) oplog.Entry {
	t.Helper()
	tail, err := f.store.Tail(f.ctx, f.id)
	require.NoError(t, err)
	e, err := oplog.ReadOne(f.ctx, f.store, f.id, tail)
	require.NoError(t, err)
	return e
}

func countingProgram(calls *atomic.Int32) host.Program {
	return host.Program{
		"increment": func(_ context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			calls.Add(1)
			n, _ := env.State["n"].(int)
			n++
			env.State["n"] = n
			return json.Marshal(n)
		},
	}
}

func invoke(t *testing.T, w *Worker, function string, key model.IdempotencyKey) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := w.InvokeAndAwait(ctx, function, nil, key)
	require.NoError(t, err)
	return string(out)
}

func TestInvokeDeduplicatesByKey(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	w := f.load(t)

	assert.Equal(t, "1", invoke(t, w, "increment", "k1"))
	assert.Equal(t, "2", invoke(t, w, "increment", "k2"))
	assert.Equal(t, "1", invoke(t, w, "increment", "k1"))
	assert.Equal(t, "3", invoke(t, w, "increment", "k3"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, oplog.KindExportedFunctionCompleted, f.last(t).Kind)
}

func TestRestartReplaysState(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	w := f.load(t)

	invoke(t, w, "increment", "k1")
	invoke(t, w, "increment", "k2")
	require.NoError(t, w.Interrupt(context.Background(), trap.Restart))

	assert.Equal(t, "3", invoke(t, w, "increment", "k3"))
	assert.Equal(t, int32(5), calls.Load())
}

func TestStopSuspendsAndReloads(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	w := f.load(t)
	invoke(t, w, "increment", "k1")
	invoke(t, w, "increment", "k2")

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, oplog.KindSuspend, f.last(t).Kind)
	_, err := w.Invoke(context.Background(), "increment", nil, "k3")
	require.ErrorIs(t, err, ErrStopped)

	w = f.load(t)
	assert.Equal(t, status.Suspended, w.Status().Record.Status)
	assert.False(t, w.Status().Active)
	assert.Equal(t, "3", invoke(t, w, "increment", "k3"))
}

func TestRetryUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	f := newFixture(t, host.Program{
		"flaky": func(_ context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			if attempts.Add(1) <= 2 {
				fmt.Fprint(env.Stderr, "not yet")
				return nil, errors.New("transient")
			}
			return json.RawMessage(`"ok"`), nil
		},
	}, model.Durable)
	w := f.load(t)

	assert.Equal(t, `"ok"`, invoke(t, w, "flaky", "k1"))
	assert.Equal(t, int32(3), attempts.Load())

	recs, err := f.store.Read(f.ctx, f.id, oplog.InitialIndex, 0)
	require.NoError(t, err)
	var errs int
	for _, r := range recs {
		if r.Entry.Kind == oplog.KindError {
			errs++
			assert.Equal(t, "not yet", r.Entry.Stderr)
		}
	}
	assert.Equal(t, 2, errs)
	assert.Equal(t, status.Idle, w.Status().Record.Status)
}

func TestPermanentFailureAndJump(t *testing.T) {
	var attempts atomic.Int32
	f := newFixture(t, host.Program{
		"broken": func(context.Context, *host.Env, json.RawMessage) (json.RawMessage, error) {
			attempts.Add(1)
			return nil, errors.New("boom")
		},
		"ok": func(context.Context, *host.Env, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`true`), nil
		},
	}, model.Durable)
	w := f.load(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.InvokeAndAwait(ctx, "broken", nil, "k1")
	require.Error(t, err)
	assert.True(t, IsFailed(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(3), attempts.Load())

	var perr *trap.ProgramError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, trap.Unknown, perr.Err.Kind)

	_, err = w.Invoke(ctx, "ok", nil, "k2")
	assert.True(t, IsFailed(err))
	assert.Equal(t, status.Failed, w.Status().Record.Status)
	require.ErrorAs(t, w.Resume(ctx), new(*FailedError))

	require.ErrorIs(t, w.Jump(ctx, 100), ErrInvalidJump)
	require.NoError(t, w.Jump(ctx, oplog.InitialIndex))
	assert.Equal(t, oplog.KindJump, f.last(t).Kind)

	assert.Equal(t, "true", invoke(t, w, "ok", "k2"))
	assert.Equal(t, int32(3), attempts.Load())

	deleted, err := f.store.DeletedRegions(ctx, f.id)
	require.NoError(t, err)
	assert.False(t, deleted.IsEmpty())
}

func TestInterruptAndResume(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	entered := make(chan struct{}, 4)
	f := newFixture(t, host.Program{
		"block": func(_ context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			for blocking.Load() {
				if err := env.Checkpoint(); err != nil {
					return nil, err
				}
				time.Sleep(time.Millisecond)
			}
			return json.RawMessage(`"done"`), nil
		},
	}, model.Durable)
	w := f.load(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := w.Invoke(ctx, "block", nil, "k1")
	require.NoError(t, err)
	select {
	case <-entered:
	case <-ctx.Done():
		t.Fatal("invocation did not start")
	}

	require.NoError(t, w.Interrupt(ctx, trap.Interrupt))
	_, err = res.Await(ctx)
	var ierr *trap.InterruptedError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, trap.Interrupt, ierr.Kind)
	assert.Equal(t, oplog.KindInterrupted, f.last(t).Kind)
	assert.Equal(t, status.Interrupted, w.Status().Record.Status)
	require.ErrorIs(t, w.Interrupt(ctx, trap.Interrupt), ErrNotRunning)

	blocking.Store(false)
	require.NoError(t, w.Resume(ctx))
	require.Eventually(t, func() bool {
		return f.last(t).Kind == oplog.KindExportedFunctionCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestReplayDivergenceFailsWorker(t *testing.T) {
	var mode atomic.Int32
	f := newFixture(t, host.Program{
		"f": func(ctx context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			if mode.Load() == 0 {
				ts, err := env.Now(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(ts.UnixMilli())
			}
			n, err := env.RandomU64(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(n)
		},
	}, model.Durable)
	w := f.load(t)
	invoke(t, w, "f", "k1")

	mode.Store(1)
	require.NoError(t, w.Interrupt(context.Background(), trap.Restart))
	require.Eventually(t, func() bool {
		return w.Status().Record.Status == status.Failed
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, w.Status().Record.Fatal)

	_, err := w.Invoke(context.Background(), "f", nil, "k2")
	assert.True(t, IsFailed(err))
}

func TestEphemeralWorkerStartsFresh(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Ephemeral)
	w := f.load(t)

	assert.Equal(t, "1", invoke(t, w, "increment", "k1"))
	assert.Equal(t, "1", invoke(t, w, "increment", "k2"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExitIsTerminal(t *testing.T) {
	f := newFixture(t, host.Program{
		"quit": func(_ context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			return nil, env.Exit(0)
		},
	}, model.Durable)
	w := f.load(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.InvokeAndAwait(ctx, "quit", nil, "k1")
	require.ErrorIs(t, err, ErrWorkerExited)
	assert.Equal(t, oplog.KindExited, f.last(t).Kind)

	_, err = w.Invoke(ctx, "quit", nil, "k2")
	require.ErrorIs(t, err, ErrWorkerExited)
}

func TestRecoverPendingInvocationOnLoad(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	_, err := f.store.Append(f.ctx, f.id, oplog.ExportedFunctionInvoked("increment", nil, "k1"))
	require.NoError(t, err)

	w := f.load(t)
	require.Eventually(t, func() bool {
		return f.last(t).Kind == oplog.KindExportedFunctionCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "1", invoke(t, w, "increment", "k1"))
}

func TestLoadUnknownWorker(t *testing.T) {
	f := newFixture(t, host.Program{}, model.Durable)
	_, err := Load(f.ctx, model.WorkerID{ComponentID: f.id.ComponentID, WorkerName: "missing"}, f.deps)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, Create(f.ctx, f.store, f.id, 0, model.Durable, nil, nil), ErrAlreadyExists)
}

// gatedHost holds instantiation until gate is closed.
type gatedHost struct {
	host.Host
	gate chan struct{}
}

func (h gatedHost) Instantiate(ctx context.Context, spec host.Spec) (host.Instance, error) {
	select {
	case <-h.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.Host.Instantiate(ctx, spec)
}

func TestQueuedWorkWaitsForPendingInterrupt(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	gate := make(chan struct{})
	f.deps.Host = gatedHost{Host: f.host, gate: gate}
	w := f.load(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := w.Invoke(ctx, "increment", nil, "k1")
	require.NoError(t, err)

	interrupted := make(chan error, 1)
	go func() { interrupted <- w.Interrupt(ctx, trap.Interrupt) }()
	require.Eventually(t, func() bool {
		return w.Status().Phase == status.Interrupting
	}, 5*time.Second, time.Millisecond)
	close(gate)
	require.NoError(t, <-interrupted)

	assert.Equal(t, oplog.KindInterrupted, f.last(t).Kind)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, w.Status().Queued)
	assert.False(t, res.isDone())
	recs, err := f.store.Read(ctx, f.id, oplog.InitialIndex, 0)
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, oplog.KindExportedFunctionInvoked, r.Entry.Kind)
	}

	require.NoError(t, w.Resume(ctx))
	out, err := res.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(out))
}

func TestCompletedResultsAreBounded(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, countingProgram(&calls), model.Durable)
	f.deps.MaxCachedResults = 2
	w := f.load(t)

	for i, key := range []model.IdempotencyKey{"k1", "k2", "k3", "k4"} {
		assert.Equal(t, fmt.Sprint(i+1), invoke(t, w, "increment", key))
	}
	var cached, evicted int
	require.NoError(t, w.call(context.Background(), func() error {
		cached, evicted = len(w.results), len(w.evicted)
		return nil
	}))
	assert.Equal(t, 2, cached)
	assert.Equal(t, 2, evicted)

	assert.Equal(t, "1", invoke(t, w, "increment", "k1"))
	assert.Equal(t, "4", invoke(t, w, "increment", "k4"))
	assert.Equal(t, "5", invoke(t, w, "increment", "k5"))
	assert.Equal(t, int32(5), calls.Load())
}
