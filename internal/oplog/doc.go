// Package oplog implements the per-worker append-only operation log that
// makes worker execution durable.
//
// # Overview
//
// Every worker has its own log. Indices start at 1 and are assigned in
// append order; NoIndex (0) means "no entry". Entries are typed (Create,
// ExportedFunctionInvoked, ImportedFunctionInvoked, Error, Jump, ...) and
// hint kinds are skipped by the replay cursor.
//
// Keys in the Pebble backend are lexicographically ordered for range scans:
//   - oplog/{worker}/m             (last index)
//   - oplog/{worker}/e/{idx_be8}   (entries)
//   - oplog/{worker}/d             (deleted regions)
//   - oplog/{worker}/a/{last_be8}  (archived segment refs)
//
// Records are stored as: uvarint headerLen | kind(1B) ts_ms(8B BE) | JSON | crc32c.
//
// API surface
//
//	store := oplog.NewPebbleStore(db, blobs)
//	last, _ := store.Append(ctx, w, oplog.Create(1, model.Durable, nil, nil))
//	recs, _ := store.Read(ctx, w, oplog.InitialIndex, 100)
//
//	// Jumping back in time hides [from, to) from later replays
//	_ = store.MarkDeleted(ctx, w, oplog.Region{Start: 5, End: 8})
//
// # Archival
//
// Archive moves old entries into gzip JSON-lines segments in a blob.Store and
// replaces them with a segment ref. Read stitches archived and live entries
// together transparently, so replay never notices. Archiver runs passes
// periodically for every known worker.
package oplog
