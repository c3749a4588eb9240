// Package pebblestore opens the executor's Pebble database and commits
// writes under the configured fsync mode.
//
// Callers own their key layout and build batches directly:
//
//	b := db.NewBatch()
//	defer b.Close()
//	_ = b.Set(key, value, nil)
//	err := db.CommitBatch(ctx, b)
//
// With FsyncModeAlways a returned CommitBatch means the batch survives a
// crash, which is what the oplog relies on to acknowledge an append.
package pebblestore
