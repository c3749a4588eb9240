package pebblestore

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

type Options struct {
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval is the group commit window of FsyncModeInterval.
	FsyncInterval time.Duration
	// Pebble overrides the engine options. Open fills in the WAL sync
	// interval.
	Pebble *pebble.Options
	// Metrics is optional.
	Metrics MetricsHook
}

// MetricsHook observes storage latency and sizes.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

type nopHook struct{}

func (nopHook) ObserveWrite(time.Duration, int)            {}
func (nopHook) ObserveRead(time.Duration, int)             {}
func (nopHook) ObserveBatchCommit(time.Duration, int, int) {}

// DB is the executor's single Pebble instance. The oplog, the worker index
// and the component registry live in it under disjoint key prefixes.
type DB struct {
	pdb     *pebble.DB
	write   *pebble.WriteOptions
	metrics MetricsHook
}

func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: data dir is required")
	}
	po := opts.Pebble
	if po == nil {
		po = &pebble.Options{}
	}
	write := opts.Fsync.configure(po, opts.FsyncInterval)
	pdb, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	db := &DB{pdb: pdb, write: write, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = nopHook{}
	}
	return db, nil
}

func (db *DB) Close() error {
	if db == nil || db.pdb == nil {
		return nil
	}
	return db.pdb.Close()
}

func (db *DB) NewBatch() *pebble.Batch { return db.pdb.NewBatch() }

// CommitBatch commits b under the fsync mode. It does not close b.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	bytes, ops := b.Len(), int(b.Count())
	err := b.Commit(db.write)
	db.metrics.ObserveBatchCommit(time.Since(start), ops, bytes)
	return err
}

// update runs fn against a fresh batch and commits it.
func (db *DB) update(ctx context.Context, fn func(*pebble.Batch) error) error {
	b := db.pdb.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

func (db *DB) Set(key, value []byte) error {
	start := time.Now()
	err := db.update(context.Background(), func(b *pebble.Batch) error {
		return b.Set(key, value, nil)
	})
	if err == nil {
		db.metrics.ObserveWrite(time.Since(start), len(key)+len(value))
	}
	return err
}

func (db *DB) Delete(key []byte) error {
	return db.update(context.Background(), func(b *pebble.Batch) error {
		return b.Delete(key, nil)
	})
}

// DeleteRange removes [start, end) in one commit.
func (db *DB) DeleteRange(ctx context.Context, start, end []byte) error {
	return db.update(ctx, func(b *pebble.Batch) error {
		return b.DeleteRange(start, end, nil)
	})
}

// Get returns a copy of the value stored under key.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	v, closer, err := db.pdb.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.pdb.NewIter(opts)
}

// PrefixIter iterates the keys that start with prefix.
func (db *DB) PrefixIter(prefix []byte) (*pebble.Iterator, error) {
	return db.pdb.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixEnd(prefix)})
}

// Ping reports whether the engine still serves reads.
func (db *DB) Ping() error {
	if db == nil || db.pdb == nil {
		return errors.New("pebble: not open")
	}
	_, closer, err := db.pdb.Get([]byte{0})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return closer.Close()
}

// PrefixEnd returns the smallest key greater than every key with prefix, or
// nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			end := append([]byte(nil), prefix[:i+1]...)
			end[i]++
			return end
		}
	}
	return nil
}
