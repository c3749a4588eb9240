// Package grpcserver hosts the gRPC server of the worker executor: the
// standard health service and the WorkerExecutor service, which delegates
// to the executor. Domain errors are mapped to status codes by Status.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	exec := executor.New(ctx, executor.Options{Oplog: rt.Oplog(), Components: rt.Components(), Host: rt.Host()})
//	s := grpcserver.New(rt, exec, grpcserver.Options{})
//	_ = s.ListenAndServe(ctx, ":9000")
package grpcserver
