// Package runtime owns the storage of a worker executor process: the Pebble
// database, the blob store, the oplog store (Pebble or memory, with optional
// archival to blobs), the component registry and the program host.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	go rt.RunArchiver(ctx)
package runtime
