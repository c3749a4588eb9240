package oplog

import (
	"context"
	"errors"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// ErrNotFound is returned when an index holds no entry.
var ErrNotFound = errors.New("oplog entry not found")

// Store is the append-only, per-worker oplog capability set. Append must be
// durable before it returns. One implementation per backend is selected at
// startup; callers never branch on the backend.
type Store interface {
	// Append writes entries atomically after the current tail and returns
	// the index of the last one.
	Append(ctx context.Context, worker model.WorkerID, entries ...Entry) (Index, error)
	// Read returns up to n entries with index >= from in ascending order;
	// n <= 0 means no limit. Entries in deleted regions are included.
	Read(ctx context.Context, worker model.WorkerID, from Index, n int) ([]Record, error)
	// Tail returns the index of the last entry, or NoIndex.
	Tail(ctx context.Context, worker model.WorkerID) (Index, error)
	// MarkDeleted adds r to the worker's deleted regions.
	MarkDeleted(ctx context.Context, worker model.WorkerID, r Region) error
	DeletedRegions(ctx context.Context, worker model.WorkerID) (DeletedRegions, error)
	// ListWorkers returns every worker with a non-empty oplog.
	ListWorkers(ctx context.Context) ([]model.WorkerID, error)
	// Delete drops the worker's oplog entirely.
	Delete(ctx context.Context, worker model.WorkerID) error
}

// ReadOne returns the entry at idx.
func ReadOne(ctx context.Context, s Store, worker model.WorkerID, idx Index) (Entry, error) {
	recs, err := s.Read(ctx, worker, idx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(recs) == 0 || recs[0].Index != idx {
		return Entry{}, ErrNotFound
	}
	return recs[0].Entry, nil
}
