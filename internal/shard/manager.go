package shard

import (
	"sync"
	"sync/atomic"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// Listener observes assignment changes. It receives the previous and the
// new snapshot and must not block.
type Listener func(prev, next Assignment)

// Manager holds the latest assignment snapshot. Reads are lock-free; all
// writes go through a single mutex so listeners see changes in order.
type Manager struct {
	current atomic.Pointer[Assignment]

	mu        sync.Mutex
	listeners []Listener
}

// NewManager starts with the given snapshot.
func NewManager(initial Assignment) *Manager {
	m := &Manager{}
	m.current.Store(&initial)
	return m
}

// Current returns the latest snapshot.
func (m *Manager) Current() Assignment { return *m.current.Load() }

// CheckWorker checks ownership against the latest snapshot.
func (m *Manager) CheckWorker(id model.WorkerID) error { return m.Current().CheckWorker(id) }

// ShardOf returns the shard of id under the current number of shards.
func (m *Manager) ShardOf(id model.WorkerID) ID {
	return FromWorkerID(id, m.Current().NumberOfShards)
}

// Subscribe registers l for all future changes.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Update replaces the snapshot wholesale.
func (m *Manager) Update(next Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := *m.current.Swap(&next)
	for _, l := range m.listeners {
		l(prev, next)
	}
}

// Assign adds shards, adopting numberOfShards.
func (m *Manager) Assign(numberOfShards int, ids ...ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := *m.current.Load()
	next := prev.Register(numberOfShards, ids...)
	m.current.Store(&next)
	for _, l := range m.listeners {
		l(prev, next)
	}
}

// Revoke removes shards.
func (m *Manager) Revoke(ids ...ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := *m.current.Load()
	next := prev.Revoke(ids...)
	m.current.Store(&next)
	for _, l := range m.listeners {
		l(prev, next)
	}
}

// Lost returns the shards owned in prev but not in next.
func Lost(prev, next Assignment) []ID {
	var out []ID
	for _, id := range prev.Sorted() {
		if next.NumberOfShards != prev.NumberOfShards || !next.Owns(id) {
			out = append(out, id)
		}
	}
	return out
}
