package oplog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
)

// PebbleStore keeps every worker's oplog in one Pebble database. Entries
// moved to blob storage by Archive stay readable through Read.
type PebbleStore struct {
	db    *pebblestore.DB
	blobs blob.Store

	mu   sync.Mutex
	logs map[model.WorkerID]*workerLog
}

type workerLog struct {
	mu     sync.Mutex
	loaded bool
	last   Index
}

// NewPebbleStore wraps db. blobs may be nil when archival is not used.
func NewPebbleStore(db *pebblestore.DB, blobs blob.Store) *PebbleStore {
	return &PebbleStore{db: db, blobs: blobs, logs: make(map[model.WorkerID]*workerLog)}
}

func (s *PebbleStore) log(w model.WorkerID) *workerLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[w]
	if !ok {
		l = &workerLog{}
		s.logs[w] = l
	}
	return l
}

// loadLocked reads the last index from metadata. Caller holds l.mu.
func (s *PebbleStore) loadLocked(w model.WorkerID, l *workerLog) error {
	if l.loaded {
		return nil
	}
	meta, err := s.db.Get(keyMeta(w))
	switch {
	case err == nil && len(meta) >= 8:
		l.last = Index(binary.BigEndian.Uint64(meta[:8]))
	case err == nil, errors.Is(err, pebblestore.ErrNotFound):
		l.last = NoIndex
	default:
		return err
	}
	l.loaded = true
	return nil
}

func (s *PebbleStore) Append(ctx context.Context, w model.WorkerID, entries ...Entry) (Index, error) {
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := s.loadLocked(w, l); err != nil {
		return NoIndex, err
	}
	if len(entries) == 0 {
		return l.last, nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	next := l.last
	for _, e := range entries {
		next++
		val, err := EncodeEntry(e)
		if err != nil {
			return NoIndex, err
		}
		if err := b.Set(keyEntry(w, next), val, nil); err != nil {
			return NoIndex, err
		}
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], uint64(next))
	if err := b.Set(keyMeta(w), meta[:], nil); err != nil {
		return NoIndex, err
	}
	if l.last == NoIndex {
		if err := b.Set(keyWorkerIndex(w), []byte{1}, nil); err != nil {
			return NoIndex, err
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return NoIndex, err
	}
	l.last = next
	return next, nil
}

func (s *PebbleStore) Tail(_ context.Context, w model.WorkerID) (Index, error) {
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := s.loadLocked(w, l); err != nil {
		return NoIndex, err
	}
	return l.last, nil
}

func (s *PebbleStore) Read(ctx context.Context, w model.WorkerID, from Index, n int) ([]Record, error) {
	if from < InitialIndex {
		from = InitialIndex
	}
	out := make([]Record, 0, max(1, n))

	archived, err := s.readArchived(ctx, w, from, n)
	if err != nil {
		return nil, err
	}
	out = append(out, archived...)
	if len(out) > 0 {
		from = out[len(out)-1].Index + 1
	}
	if n > 0 && len(out) >= n {
		return out[:n], nil
	}

	low, high := entryBounds(w)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for ok := iter.SeekGE(keyEntry(w, from)); ok && (n <= 0 || len(out) < n); ok = iter.Next() {
		e, err := DecodeEntry(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("worker %s index %d: %w", w, indexFromEntryKey(iter.Key()), err)
		}
		out = append(out, Record{Index: indexFromEntryKey(iter.Key()), Entry: e})
	}
	return out, iter.Error()
}

func (s *PebbleStore) MarkDeleted(_ context.Context, w model.WorkerID, r Region) error {
	if r.Empty() {
		return nil
	}
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()
	regions, err := s.deletedRegions(w)
	if err != nil {
		return err
	}
	regions.Add(r)
	b, err := json.Marshal(regions)
	if err != nil {
		return err
	}
	return s.db.Set(keyDeleted(w), b)
}

func (s *PebbleStore) DeletedRegions(_ context.Context, w model.WorkerID) (DeletedRegions, error) {
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()
	return s.deletedRegions(w)
}

func (s *PebbleStore) deletedRegions(w model.WorkerID) (DeletedRegions, error) {
	raw, err := s.db.Get(keyDeleted(w))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return DeletedRegions{}, nil
	}
	if err != nil {
		return DeletedRegions{}, err
	}
	var d DeletedRegions
	if err := json.Unmarshal(raw, &d); err != nil {
		return DeletedRegions{}, fmt.Errorf("decode deleted regions of %s: %w", w, err)
	}
	return d, nil
}

func (s *PebbleStore) ListWorkers(_ context.Context) ([]model.WorkerID, error) {
	iter, err := s.db.PrefixIter(workersPrefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []model.WorkerID
	for ok := iter.First(); ok; ok = iter.Next() {
		id, err := model.ParseWorkerID(string(iter.Key()[len(workersPrefix):]))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, iter.Error()
}

func (s *PebbleStore) Delete(ctx context.Context, w model.WorkerID) error {
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()

	segments, err := s.segments(w)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		for _, seg := range segments {
			if err := s.blobs.Delete(ctx, blob.NamespaceOplog, seg.Path); err != nil && !errors.Is(err, blob.ErrNotFound) {
				return err
			}
		}
	}

	prefix := append(keyWorkerPrefix(w), '/')
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, pebblestore.PrefixEnd(prefix), nil); err != nil {
		return err
	}
	if err := b.Delete(keyWorkerIndex(w), nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	l.loaded = true
	l.last = NoIndex
	return nil
}

var _ Store = (*PebbleStore)(nil)
