package component

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRegistry(db, blob.NewMemoryStore())
}

func TestRegisterCreatesVersions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	id := model.NewComponentID()

	_, err := r.Latest(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	m0, err := r.Register(ctx, id, "counter", model.Durable, []byte("v0"))
	require.NoError(t, err)
	assert.Equal(t, model.ComponentVersion(0), m0.Version)
	m1, err := r.Register(ctx, id, "counter", model.Durable, []byte("v1!"))
	require.NoError(t, err)
	assert.Equal(t, model.ComponentVersion(1), m1.Version)
	assert.Equal(t, 3, m1.Size)

	latest, err := r.Latest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ComponentVersion(1), latest.Version)

	bin, err := r.Binary(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("v0"), bin)

	_, err = r.Get(ctx, id, 7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsLatestPerComponent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a, b := model.NewComponentID(), model.NewComponentID()
	for i := 0; i < 3; i++ {
		_, err := r.Register(ctx, a, "a", model.Durable, nil)
		require.NoError(t, err)
	}
	_, err := r.Register(ctx, b, "b", model.Ephemeral, nil)
	require.NoError(t, err)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[model.ComponentID]Metadata{}
	for _, m := range list {
		byID[m.ID] = m
	}
	assert.Equal(t, model.ComponentVersion(2), byID[a].Version)
	assert.Equal(t, model.Ephemeral, byID[b].Type)
}
