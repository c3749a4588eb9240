// Package executor is the worker executor service: it owns a set of shards,
// loads the workers that hash to them and exposes the worker lifecycle
// operations used by the gRPC and HTTP servers.
//
// Workers of shards this process does not own are rejected with
// *shard.InvalidShardIDError so callers can retry against the owner.
package executor
