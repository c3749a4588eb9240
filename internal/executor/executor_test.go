package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/component"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/shard"
	"github.com/golemcloud/golem-sub031/internal/status"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/internal/worker"
)

type env struct {
	ctx        context.Context
	store      *oplog.MemoryStore
	host       *host.NativeHost
	components *component.Registry
	shards     *shard.Manager
	metrics    *metrics.Metrics
	cid        model.ComponentID
}

func counter() host.Program {
	return host.Program{
		"increment": func(_ context.Context, env *host.Env, _ json.RawMessage) (json.RawMessage, error) {
			n, _ := env.State["n"].(int)
			n++
			env.State["n"] = n
			return json.Marshal(n)
		},
	}
}

func newEnv(t *testing.T, numberOfShards int, owned ...shard.ID) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		ctx:        ctx,
		store:      oplog.NewMemoryStore(),
		host:       host.NewNativeHost(),
		components: component.NewRegistry(db, blob.NewMemoryStore()),
		shards:     shard.NewManager(shard.NewAssignment(numberOfShards, owned...)),
		metrics:    metrics.New(),
		cid:        model.NewComponentID(),
	}
	e.host.Register(e.cid, counter())
	_, err = e.components.Register(ctx, e.cid, "counter", model.Durable, []byte("counter"))
	require.NoError(t, err)
	return e
}

func (e *env) executor(t *testing.T) *Executor {
	t.Helper()
	x := New(e.ctx, Options{
		Oplog:      e.store,
		Components: e.components,
		Host:       e.host,
		Shards:     e.shards,
		Retry:      model.RetryConfig{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
		Metrics:    e.metrics,
	})
	t.Cleanup(func() { _ = x.Close(context.Background()) })
	return x
}

func (e *env) worker(name string) model.WorkerID {
	return model.WorkerID{ComponentID: e.cid, WorkerName: name}
}

// workerOnShard returns a worker that hashes to sid.
func (e *env) workerOnShard(t *testing.T, numberOfShards int, sid shard.ID) model.WorkerID {
	t.Helper()
	for i := 0; i < 1000; i++ {
		w := e.worker(fmt.Sprintf("worker-%d", i))
		if shard.FromWorkerID(w, numberOfShards) == sid {
			return w
		}
	}
	t.Fatalf("no worker name maps to shard %s", sid)
	return model.WorkerID{}
}

func await(t *testing.T, x *Executor, w model.WorkerID, key model.IdempotencyKey) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, _, err := x.InvokeAndAwait(ctx, w, "increment", nil, key)
	require.NoError(t, err)
	return string(out)
}

func TestInvokeCreatesWorkerOnFirstUse(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)
	w := e.worker("fresh")

	assert.Equal(t, "1", await(t, x, w, "k1"))
	assert.Equal(t, "2", await(t, x, w, "k2"))
	assert.Equal(t, "1", await(t, x, w, "k1"))

	require.Eventually(t, func() bool {
		md, err := x.GetMetadata(e.ctx, w)
		return err == nil && md.Record.Status == status.Idle
	}, 5*time.Second, 5*time.Millisecond)
	md, err := x.GetMetadata(e.ctx, w)
	require.NoError(t, err)
	assert.True(t, md.Active)
	assert.Equal(t, model.ComponentVersion(0), md.Record.ComponentVersion)

	recs, deleted, err := x.ReadOplog(e.ctx, w, 0, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, oplog.KindCreate, recs[0].Entry.Kind)
	assert.True(t, deleted.IsEmpty())
}

func TestInvokeGeneratesIdempotencyKey(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)

	key, err := x.Invoke(e.ctx, e.worker("async"), "increment", nil, "")
	require.NoError(t, err)
	assert.Len(t, string(key), 32)

	out, same, err := x.InvokeAndAwait(e.ctx, e.worker("async"), "increment", nil, key)
	require.NoError(t, err)
	assert.Equal(t, key, same)
	assert.Equal(t, "1", string(out))
}

func TestCreateWorker(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)
	w := e.worker("created")

	md, err := x.CreateWorker(e.ctx, w, nil, []string{"--flag"}, []model.EnvVar{{Key: "A", Value: "1"}})
	require.NoError(t, err)
	assert.Equal(t, model.ComponentVersion(0), md.Version)

	_, err = x.CreateWorker(e.ctx, w, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrAlreadyExists)

	missing := model.ComponentVersion(7)
	_, err = x.CreateWorker(e.ctx, e.worker("other"), &missing, nil, nil)
	require.ErrorIs(t, err, component.ErrNotFound)

	meta, err := x.GetMetadata(e.ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"--flag"}, meta.Record.Args)
}

func TestRejectsWorkersOfForeignShards(t *testing.T) {
	e := newEnv(t, 4, 1)
	x := e.executor(t)
	foreign := e.workerOnShard(t, 4, 2)

	_, _, err := x.InvokeAndAwait(e.ctx, foreign, "increment", nil, "k1")
	var invalid *shard.InvalidShardIDError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, shard.ID(2), invalid.ShardID)
	assert.Equal(t, []shard.ID{1}, invalid.ShardIDs)

	tail, err := e.store.Tail(e.ctx, foreign)
	require.NoError(t, err)
	assert.Equal(t, oplog.NoIndex, tail)

	_, err = x.GetMetadata(e.ctx, model.WorkerID{ComponentID: e.cid})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRevokeAndReassignShards(t *testing.T) {
	e := newEnv(t, 2, 0, 1)
	x := e.executor(t)
	w := e.workerOnShard(t, 2, 1)
	assert.Equal(t, "1", await(t, x, w, "k1"))

	a, err := x.RevokeShards(e.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []shard.ID{0}, a.Sorted())
	require.Eventually(t, func() bool {
		_, loaded := x.registry.Get(w)
		return !loaded
	}, 5*time.Second, 5*time.Millisecond)
	last, err := oplog.ReadOne(e.ctx, e.store, w, mustTail(t, e, w))
	require.NoError(t, err)
	assert.Equal(t, oplog.KindSuspend, last.Kind)

	_, err = x.GetMetadata(e.ctx, w)
	var invalid *shard.InvalidShardIDError
	require.True(t, errors.As(err, &invalid))

	_, err = x.AssignShards(e.ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "2", await(t, x, w, "k2"))

	_, err = x.AssignShards(e.ctx, 2, 5)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func mustTail(t *testing.T, e *env, w model.WorkerID) oplog.Index {
	t.Helper()
	tail, err := e.store.Tail(e.ctx, w)
	require.NoError(t, err)
	return tail
}

func TestRecoverOnStartup(t *testing.T) {
	e := newEnv(t, 1, 0)
	pending := e.worker("pending")
	idle := e.worker("idle")
	require.NoError(t, worker.Create(e.ctx, e.store, pending, 0, model.Durable, nil, nil))
	_, err := e.store.Append(e.ctx, pending, oplog.ExportedFunctionInvoked("increment", nil, "k1"))
	require.NoError(t, err)
	require.NoError(t, worker.Create(e.ctx, e.store, idle, 0, model.Durable, nil, nil))

	x := e.executor(t)
	n, err := x.RecoverOnStartup(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []model.WorkerID{pending}, x.registry.Active())

	require.Eventually(t, func() bool {
		last, err := oplog.ReadOne(e.ctx, e.store, pending, mustTail(t, e, pending))
		return err == nil && last.Kind == oplog.KindExportedFunctionCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "1", await(t, x, pending, "k1"))

	all, err := x.ListWorkers(e.ctx, WorkerFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filter, err := ParseWorkerFilter(`name == "idle"`)
	require.NoError(t, err)
	some, err := x.ListWorkers(e.ctx, filter)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, idle, some[0].Worker)
}

func TestInterruptAndResume(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)
	w := e.worker("interrupted")
	assert.Equal(t, "1", await(t, x, w, "k1"))

	require.ErrorIs(t, x.Interrupt(e.ctx, w, trap.Jump), ErrInvalidRequest)
	require.NoError(t, x.Interrupt(e.ctx, w, trap.Interrupt))
	md, err := x.GetMetadata(e.ctx, w)
	require.NoError(t, err)
	assert.Equal(t, status.Interrupted, md.Record.Status)

	require.NoError(t, x.Resume(e.ctx, w))
	assert.Equal(t, "2", await(t, x, w, "k2"))

	require.NoError(t, x.Jump(e.ctx, w, 1))
	assert.Equal(t, "1", await(t, x, w, "k3"))
}

func TestUnknownWorker(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)

	_, err := x.GetMetadata(e.ctx, e.worker("missing"))
	require.ErrorIs(t, err, ErrWorkerNotFound)
	_, _, err = x.ReadOplog(e.ctx, e.worker("missing"), 1, 10)
	require.ErrorIs(t, err, ErrWorkerNotFound)
	require.ErrorIs(t, x.Resume(e.ctx, e.worker("missing")), ErrWorkerNotFound)
}

func TestRequestsAreMeasured(t *testing.T) {
	e := newEnv(t, 1, 0)
	x := e.executor(t)
	await(t, x, e.worker("measured"), "k1")
	_, _ = x.GetMetadata(e.ctx, e.worker("missing"))

	n, err := testutil.GatherAndCount(e.metrics.Registry(), "golem_executor_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
}

func TestRevokingBusyWorkerKeepsOtherShardsServed(t *testing.T) {
	e := newEnv(t, 2, 0, 1)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocker := model.NewComponentID()
	e.host.Register(blocker, host.Program{
		"block": func(context.Context, *host.Env, json.RawMessage) (json.RawMessage, error) {
			entered <- struct{}{}
			<-release
			return json.RawMessage(`"done"`), nil
		},
	})
	_, err := e.components.Register(e.ctx, blocker, "blocker", model.Durable, []byte("blocker"))
	require.NoError(t, err)
	x := e.executor(t)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	var busyID model.WorkerID
	for i := 0; ; i++ {
		busyID = model.WorkerID{ComponentID: blocker, WorkerName: fmt.Sprintf("busy-%d", i)}
		if shard.FromWorkerID(busyID, 2) == 0 {
			break
		}
	}
	other := e.workerOnShard(t, 2, 1)
	assert.Equal(t, "1", await(t, x, other, "k1"))

	_, err = x.Invoke(e.ctx, busyID, "block", nil, "k1")
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation did not start")
	}
	busy, ok := x.registry.Get(busyID)
	require.True(t, ok)

	_, err = x.RevokeShards(e.ctx, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return busy.Status().Phase == status.Interrupting
	}, 5*time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := x.GetMetadata(e.ctx, other)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GetMetadata blocked behind eviction of a busy worker")
	}
	assert.Equal(t, "2", await(t, x, other, "k2"))

	unblock()
	select {
	case <-busy.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("evicted worker did not stop")
	}
	last, err := oplog.ReadOne(e.ctx, e.store, busyID, mustTail(t, e, busyID))
	require.NoError(t, err)
	assert.Equal(t, oplog.KindSuspend, last.Kind)
}
