// Package durability implements the live/replay protocol that wraps every
// non-deterministic operation a worker performs.
//
// An Execution is opened per worker instance. While its cursor is behind the
// replay target, durable operations return the outcomes recorded in the
// oplog without running; afterwards they run and append their outcome:
//
//	exec, _ := durability.Open(ctx, durability.Options{Store: store, Worker: w})
//	body, err := durability.Call(ctx, exec, "http::get", oplog.ReadRemote, url, fetch)
//
// Replay that does not find the entry the program asks for fails with a
// DivergenceError; guessing would break exactly-once effects.
package durability
