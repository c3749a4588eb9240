package oplog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

func testWorker(t *testing.T, name string) model.WorkerID {
	t.Helper()
	id, err := model.ParseWorkerID("5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11/" + name)
	require.NoError(t, err)
	return id
}

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	return db
}

func newTestPebbleStore(t *testing.T, blobs blob.Store) *PebbleStore {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	return NewPebbleStore(db, blobs)
}

func storeBackends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"pebble": newTestPebbleStore(t, nil),
	}
}

func TestStoreAppendRead(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := testWorker(t, "worker-1")

			tail, err := s.Tail(ctx, w)
			require.NoError(t, err)
			assert.Equal(t, NoIndex, tail)

			last, err := s.Append(ctx, w,
				Create(3, model.Durable, []string{"a"}, []model.EnvVar{{Key: "K", Value: "V"}}),
				ExportedFunctionInvoked("run", json.RawMessage(`[1]`), "key-1"),
			)
			require.NoError(t, err)
			assert.Equal(t, Index(2), last)

			last, err = s.Append(ctx, w, ImportedFunctionInvoked("http::get", ReadRemote, json.RawMessage(`"u"`), json.RawMessage(`{"ok":200}`), PayloadV2))
			require.NoError(t, err)
			assert.Equal(t, Index(3), last)

			recs, err := s.Read(ctx, w, InitialIndex, 0)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i, r := range recs {
				assert.Equal(t, Index(i+1), r.Index)
			}
			assert.Equal(t, KindCreate, recs[0].Entry.Kind)
			assert.Equal(t, model.ComponentVersion(3), recs[0].Entry.ComponentVersion)
			assert.Equal(t, []model.EnvVar{{Key: "K", Value: "V"}}, recs[0].Entry.Env)
			assert.Equal(t, model.IdempotencyKey("key-1"), recs[1].Entry.IdempotencyKey)
			assert.Equal(t, "http::get", recs[2].Entry.FunctionName)
			assert.Equal(t, ReadRemote, recs[2].Entry.FunctionType)
			assert.JSONEq(t, `{"ok":200}`, string(recs[2].Entry.Response))

			recs, err = s.Read(ctx, w, 2, 1)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, Index(2), recs[0].Index)

			e, err := ReadOne(ctx, s, w, 3)
			require.NoError(t, err)
			assert.Equal(t, KindImportedFunctionInvoked, e.Kind)
			_, err = ReadOne(ctx, s, w, 4)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreWorkersAreIsolated(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w1, w2 := testWorker(t, "a"), testWorker(t, "ab")

			_, err := s.Append(ctx, w1, Suspend(), NoOp())
			require.NoError(t, err)
			_, err = s.Append(ctx, w2, Exited())
			require.NoError(t, err)

			recs, err := s.Read(ctx, w2, InitialIndex, 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, KindExited, recs[0].Entry.Kind)

			workers, err := s.ListWorkers(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []model.WorkerID{w1, w2}, workers)

			require.NoError(t, s.Delete(ctx, w1))
			tail, err := s.Tail(ctx, w1)
			require.NoError(t, err)
			assert.Equal(t, NoIndex, tail)
			workers, err = s.ListWorkers(ctx)
			require.NoError(t, err)
			assert.Equal(t, []model.WorkerID{w2}, workers)

			tail, err = s.Tail(ctx, w2)
			require.NoError(t, err)
			assert.Equal(t, Index(1), tail)
		})
	}
}

func TestStoreDeletedRegions(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := testWorker(t, "jumper")

			d, err := s.DeletedRegions(ctx, w)
			require.NoError(t, err)
			assert.True(t, d.IsEmpty())

			require.NoError(t, s.MarkDeleted(ctx, w, Region{Start: 5, End: 8}))
			require.NoError(t, s.MarkDeleted(ctx, w, Region{Start: 8, End: 10}))
			require.NoError(t, s.MarkDeleted(ctx, w, Region{Start: 2, End: 2}))

			d, err = s.DeletedRegions(ctx, w)
			require.NoError(t, err)
			assert.Equal(t, []Region{{Start: 5, End: 10}}, d.Regions())
		})
	}
}

func TestStoreErrorEntryRoundTrip(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := testWorker(t, "failing")
			_, err := s.Append(ctx, w,
				Error(trap.StackOverflowError(), "stack"),
				Jump(Region{Start: 2, End: 4}),
				ChangeRetryPolicy(model.RetryConfig{MaxAttempts: 7, MinDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}),
			)
			require.NoError(t, err)

			recs, err := s.Read(ctx, w, InitialIndex, 0)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			require.NotNil(t, recs[0].Entry.Error)
			assert.Equal(t, trap.StackOverflow, recs[0].Entry.Error.Kind)
			assert.Equal(t, "stack", recs[0].Entry.Stderr)
			assert.Equal(t, &Region{Start: 2, End: 4}, recs[1].Entry.Jump)
			require.NotNil(t, recs[2].Entry.RetryPolicy)
			assert.Equal(t, uint32(7), recs[2].Entry.RetryPolicy.MaxAttempts)
		})
	}
}

func TestPebbleStoreDurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := testWorker(t, "durable")

	db := openTestDB(t, dir)
	s := NewPebbleStore(db, nil)
	_, err := s.Append(ctx, w, Create(1, model.Durable, nil, nil), Suspend())
	require.NoError(t, err)
	require.NoError(t, s.MarkDeleted(ctx, w, Region{Start: 2, End: 3}))
	require.NoError(t, db.Close())

	db = openTestDB(t, dir)
	defer db.Close()
	s = NewPebbleStore(db, nil)
	tail, err := s.Tail(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, Index(2), tail)

	last, err := s.Append(ctx, w, NoOp())
	require.NoError(t, err)
	assert.Equal(t, Index(3), last)

	d, err := s.DeletedRegions(ctx, w)
	require.NoError(t, err)
	assert.True(t, d.IsDeleted(2))
}
