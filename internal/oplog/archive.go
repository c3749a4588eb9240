package oplog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

// Segment describes a contiguous run of entries moved to blob storage.
type Segment struct {
	First Index  `json:"first"`
	Last  Index  `json:"last"`
	Path  string `json:"path"`
}

// segmentLine is one JSON line in an archived segment.
type segmentLine struct {
	Index  Index  `json:"i"`
	Record []byte `json:"r"`
}

// ErrArchiveUnavailable is returned by Archive when no blob store is set.
var ErrArchiveUnavailable = errors.New("oplog archive requires a blob store")

func (s *PebbleStore) segments(w model.WorkerID) ([]Segment, error) {
	prefix := append(keyWorkerPrefix(w), archiveSeg...)
	iter, err := s.db.PrefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Segment
	for ok := iter.First(); ok; ok = iter.Next() {
		var seg Segment
		if err := json.Unmarshal(iter.Value(), &seg); err != nil {
			return nil, fmt.Errorf("decode archive segment of %s: %w", w, err)
		}
		out = append(out, seg)
	}
	return out, iter.Error()
}

// Segments lists the archived segments of w in index order.
func (s *PebbleStore) Segments(_ context.Context, w model.WorkerID) ([]Segment, error) {
	return s.segments(w)
}

func (s *PebbleStore) readArchived(ctx context.Context, w model.WorkerID, from Index, n int) ([]Record, error) {
	if s.blobs == nil {
		return nil, nil
	}
	segs, err := s.segments(w)
	if err != nil || len(segs) == 0 {
		return nil, err
	}
	var out []Record
	for _, seg := range segs {
		if seg.Last < from {
			continue
		}
		recs, err := s.loadSegment(ctx, seg)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Index < from {
				continue
			}
			out = append(out, r)
			if n > 0 && len(out) >= n {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *PebbleStore) loadSegment(ctx context.Context, seg Segment) ([]Record, error) {
	data, err := s.blobs.Get(ctx, blob.NamespaceOplog, seg.Path)
	if err != nil {
		return nil, fmt.Errorf("load oplog segment %s: %w", seg.Path, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open oplog segment %s: %w", seg.Path, err)
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)
	out := make([]Record, 0, seg.Last-seg.First+1)
	for {
		var line segmentLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read oplog segment %s: %w", seg.Path, err)
		}
		e, err := DecodeEntry(line.Record)
		if err != nil {
			return nil, fmt.Errorf("segment %s index %d: %w", seg.Path, line.Index, err)
		}
		out = append(out, Record{Index: line.Index, Entry: e})
	}
	return out, nil
}

// Archive moves the live entries of w with index <= upTo and a timestamp
// before cutoff into one gzip segment in blob storage. Entries stop at the
// first one that is too recent, so archived runs stay contiguous. It
// returns the archived region, empty when nothing qualified.
func (s *PebbleStore) Archive(ctx context.Context, w model.WorkerID, upTo Index, cutoff time.Time, maxEntries int) (Region, error) {
	if s.blobs == nil {
		return Region{}, ErrArchiveUnavailable
	}
	l := s.log(w)
	l.mu.Lock()
	defer l.mu.Unlock()

	low, high := entryBounds(w)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return Region{}, err
	}
	defer iter.Close()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	var first, last Index
	count := 0
	cutoffMs := cutoff.UnixMilli()
	for ok := iter.First(); ok; ok = iter.Next() {
		idx := indexFromEntryKey(iter.Key())
		if idx > upTo || (maxEntries > 0 && count >= maxEntries) {
			break
		}
		ts, okTs := entryTimestampMs(iter.Value())
		if !okTs || ts >= cutoffMs {
			break
		}
		if err := enc.Encode(segmentLine{Index: idx, Record: append([]byte(nil), iter.Value()...)}); err != nil {
			return Region{}, err
		}
		if first == NoIndex {
			first = idx
		}
		last = idx
		count++
	}
	if err := iter.Error(); err != nil {
		return Region{}, err
	}
	if count == 0 {
		return Region{}, nil
	}
	if err := zw.Close(); err != nil {
		return Region{}, err
	}

	seg := Segment{First: first, Last: last, Path: fmt.Sprintf("%s/%d-%d.json.gz", w, first, last)}
	if err := s.blobs.Put(ctx, blob.NamespaceOplog, seg.Path, buf.Bytes()); err != nil {
		return Region{}, err
	}
	ref, err := json.Marshal(seg)
	if err != nil {
		return Region{}, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyArchive(w, last), ref, nil); err != nil {
		return Region{}, err
	}
	if err := b.DeleteRange(keyEntry(w, first), keyEntry(w, last+1), nil); err != nil {
		return Region{}, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return Region{}, err
	}
	return Region{Start: first, End: last + 1}, nil
}

// Archiver periodically moves old oplog entries of every worker into blob
// storage.
type Archiver struct {
	store      *PebbleStore
	age        time.Duration
	batch      int
	interval   time.Duration
	keepLatest uint64
	logger     log.Logger
	onArchive  func(w model.WorkerID, r Region)
}

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	// Age is how old an entry must be before it is archived.
	Age time.Duration
	// Batch caps entries per segment.
	Batch int
	// Interval between passes.
	Interval time.Duration
	// KeepLatest entries at the tail always stay in the primary store.
	KeepLatest uint64
	// OnArchive observes every archived region. Optional.
	OnArchive func(w model.WorkerID, r Region)
}

func NewArchiver(store *PebbleStore, opts ArchiverOptions, logger log.Logger) *Archiver {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 1024
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	onArchive := opts.OnArchive
	if onArchive == nil {
		onArchive = func(model.WorkerID, Region) {}
	}
	return &Archiver{
		store:      store,
		age:        opts.Age,
		batch:      opts.Batch,
		interval:   opts.Interval,
		keepLatest: opts.KeepLatest,
		logger:     logger.With(log.Component("oplog-archiver")),
		onArchive:  onArchive,
	}
}

// Pass archives eligible entries of every worker once and returns the
// number of segments written.
func (a *Archiver) Pass(ctx context.Context) (int, error) {
	workers, err := a.store.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-a.age)
	written := 0
	for _, w := range workers {
		tail, err := a.store.Tail(ctx, w)
		if err != nil {
			return written, err
		}
		if uint64(tail) <= a.keepLatest {
			continue
		}
		upTo := tail - Index(a.keepLatest)
		r, err := a.store.Archive(ctx, w, upTo, cutoff, a.batch)
		if err != nil {
			return written, fmt.Errorf("archive %s: %w", w, err)
		}
		if !r.Empty() {
			written++
			a.onArchive(w, r)
			a.logger.Debug("archived oplog segment", log.Str("worker_id", w.String()), log.Stringer("region", r))
		}
	}
	return written, nil
}

// Run calls Pass every interval until ctx is done.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Pass(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("oplog archive pass failed", log.Err(err))
			}
		}
	}
}
