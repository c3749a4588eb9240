package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
)

func appendNoOps(t *testing.T, s Store, w model.WorkerID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(context.Background(), w, NoOp())
		require.NoError(t, err)
	}
}

func TestArchiveKeepsEntriesReadable(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemoryStore()
	s := newTestPebbleStore(t, blobs)
	w := testWorker(t, "archived")
	appendNoOps(t, s, w, 10)

	r, err := s.Archive(ctx, w, 6, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, Region{Start: 1, End: 7}, r)

	segs, err := s.Segments(ctx, w)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, Index(1), segs[0].First)
	assert.Equal(t, Index(6), segs[0].Last)
	paths, err := blobs.List(ctx, blob.NamespaceOplog, w.String()+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{segs[0].Path}, paths)

	recs, err := s.Read(ctx, w, InitialIndex, 0)
	require.NoError(t, err)
	require.Len(t, recs, 10)
	for i, rec := range recs {
		assert.Equal(t, Index(i+1), rec.Index)
		assert.Equal(t, KindNoOp, rec.Entry.Kind)
	}

	recs, err = s.Read(ctx, w, 5, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, Index(5), recs[0].Index)
	assert.Equal(t, Index(7), recs[2].Index)

	last, err := s.Append(ctx, w, Suspend())
	require.NoError(t, err)
	assert.Equal(t, Index(11), last)
}

func TestArchiveRespectsCutoffAndBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestPebbleStore(t, blob.NewMemoryStore())
	w := testWorker(t, "young")
	appendNoOps(t, s, w, 5)

	r, err := s.Archive(ctx, w, 5, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.True(t, r.Empty())

	r, err = s.Archive(ctx, w, 5, time.Now().Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, Region{Start: 1, End: 3}, r)
	r, err = s.Archive(ctx, w, 5, time.Now().Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, Region{Start: 3, End: 5}, r)

	segs, err := s.Segments(ctx, w)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestArchiveWithoutBlobStore(t *testing.T) {
	s := newTestPebbleStore(t, nil)
	w := testWorker(t, "noblob")
	appendNoOps(t, s, w, 1)
	_, err := s.Archive(context.Background(), w, 1, time.Now(), 0)
	require.ErrorIs(t, err, ErrArchiveUnavailable)
}

func TestDeleteRemovesArchivedSegments(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemoryStore()
	s := newTestPebbleStore(t, blobs)
	w := testWorker(t, "gone")
	appendNoOps(t, s, w, 4)
	_, err := s.Archive(ctx, w, 2, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, w))

	paths, err := blobs.List(ctx, blob.NamespaceOplog, "")
	require.NoError(t, err)
	assert.Empty(t, paths)
	recs, err := s.Read(ctx, w, InitialIndex, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestArchiverPassKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestPebbleStore(t, blob.NewMemoryStore())
	w1, w2 := testWorker(t, "w1"), testWorker(t, "w2")
	appendNoOps(t, s, w1, 6)
	appendNoOps(t, s, w2, 2)

	var seen []Region
	a := NewArchiver(s, ArchiverOptions{Age: -time.Hour, KeepLatest: 2, OnArchive: func(_ model.WorkerID, r Region) {
		seen = append(seen, r)
	}}, nil)

	n, err := a.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Region{{Start: 1, End: 5}}, seen)

	n, err = a.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
