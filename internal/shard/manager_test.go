package shard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerNotifiesListeners(t *testing.T) {
	m := NewManager(NewAssignment(4, 0, 1, 2))
	var got [][]ID
	m.Subscribe(func(prev, next Assignment) { got = append(got, Lost(prev, next)) })

	m.Revoke(1)
	m.Assign(4, 3)
	m.Update(NewAssignment(8, 0))

	require.Len(t, got, 3)
	assert.Equal(t, []ID{1}, got[0])
	assert.Nil(t, got[1])
	// number of shards changed: every previous shard is lost
	assert.Equal(t, []ID{0, 2, 3}, got[2])
	assert.Equal(t, 8, m.Current().NumberOfShards)
}

func TestManagerCheckWorker(t *testing.T) {
	id := fixedWorker("worker-1")
	m := NewManager(NewAssignment(4, 0))
	assert.Error(t, m.CheckWorker(id))
	m.Assign(4, m.ShardOf(id))
	assert.NoError(t, m.CheckWorker(id))
}

func TestReadAssignmentFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "shards.yaml")
	require.NoError(t, os.WriteFile(p, []byte("numberOfShards: 4\nshardIds: [0, 3]\n"), 0o644))
	a, err := ReadAssignmentFile(p)
	require.NoError(t, err)
	assert.Equal(t, []ID{0, 3}, a.Sorted())

	require.NoError(t, os.WriteFile(p, []byte(`{"numberOfShards": 2, "shardIds": [5]}`), 0o644))
	_, err = ReadAssignmentFile(p)
	assert.Error(t, err)
}

func TestFileSourcePublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "shards.yaml")
	require.NoError(t, os.WriteFile(p, []byte("numberOfShards: 4\nshardIds: [0]\n"), 0o644))

	m := NewManager(Assignment{})
	var mu sync.Mutex
	var last Assignment
	m.Subscribe(func(_, next Assignment) { mu.Lock(); last = next; mu.Unlock() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewFileSource(p, m, nil)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Current().Owns(0) }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("numberOfShards: 4\nshardIds: [1, 2]\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Owns(1) && last.Owns(2) && !last.Owns(0)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("file source did not stop")
	}
}
