package oplog

import (
	"context"
	"sort"
	"sync"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// MemoryStore is an in-process Store for tests and ephemeral deployments.
// Entries are kept encoded so behavior matches the persistent backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[model.WorkerID][][]byte
	deleted map[model.WorkerID]DeletedRegions
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[model.WorkerID][][]byte),
		deleted: make(map[model.WorkerID]DeletedRegions),
	}
}

func (s *MemoryStore) Append(_ context.Context, w model.WorkerID, entries ...Entry) (Index, error) {
	encoded := make([][]byte, 0, len(entries))
	for _, e := range entries {
		b, err := EncodeEntry(e)
		if err != nil {
			return NoIndex, err
		}
		encoded = append(encoded, b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[w] = append(s.entries[w], encoded...)
	return Index(len(s.entries[w])), nil
}

func (s *MemoryStore) Read(_ context.Context, w model.WorkerID, from Index, n int) ([]Record, error) {
	if from < InitialIndex {
		from = InitialIndex
	}
	s.mu.Lock()
	log := s.entries[w]
	s.mu.Unlock()

	var out []Record
	for i := int(from) - 1; i < len(log) && (n <= 0 || len(out) < n); i++ {
		e, err := DecodeEntry(log[i])
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Index: Index(i + 1), Entry: e})
	}
	return out, nil
}

func (s *MemoryStore) Tail(_ context.Context, w model.WorkerID) (Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Index(len(s.entries[w])), nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, w model.WorkerID, r Region) error {
	if r.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deleted[w]
	d.Add(r)
	s.deleted[w] = d
	return nil
}

func (s *MemoryStore) DeletedRegions(_ context.Context, w model.WorkerID) (DeletedRegions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewDeletedRegions(s.deleted[w].Regions()...), nil
}

func (s *MemoryStore) ListWorkers(_ context.Context) ([]model.WorkerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WorkerID, 0, len(s.entries))
	for w, log := range s.entries {
		if len(log) > 0 {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, w model.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, w)
	delete(s.deleted, w)
	return nil
}

var _ Store = (*MemoryStore)(nil)
