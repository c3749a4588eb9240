// Package shard routes workers to executor processes.
//
// A worker's shard is a pure function of its id and the cluster's number of
// shards:
//
//	sid := shard.FromWorkerID(workerID, 1024)
//
// Ownership is a separate, replaceable snapshot. The Manager holds the latest
// Assignment published by the shard manager, and every inbound request is
// checked against it before any worker state is touched:
//
//	m := shard.NewManager(shard.NewAssignment(4, 0, 1))
//	if err := m.CheckWorker(workerID); err != nil {
//	    // *InvalidShardIDError: retry against the owning executor
//	}
//
// FileSource is a shard manager stand-in that publishes assignments read
// from a YAML or JSON file and re-publishes on every change.
package shard
