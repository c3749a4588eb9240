package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, namespace, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[namespace][path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, namespace, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.objects[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.objects[namespace] = ns
	}
	ns[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[namespace][path]; !ok {
		return ErrNotFound
	}
	delete(s.objects[namespace], path)
	return nil
}

func (s *MemoryStore) List(_ context.Context, namespace, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.objects[namespace] {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
