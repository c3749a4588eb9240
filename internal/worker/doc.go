// Package worker runs durable workers.
//
// Each Worker is a supervisor goroutine that owns the worker's state and
// executes commands (invoke, interrupt, resume, jump, stop) sent to it over
// a channel. Program instances run on their own goroutine: an instance
// first replays the worker's oplog, then executes invocations one at a
// time. When an instance traps, the supervisor records the trap in the
// oplog and applies the recovery decision: restart now, restart after a
// backoff delay, or stay down.
//
// Results are kept per idempotency key, so repeating an invocation returns
// the result recorded the first time. A Registry holds the loaded workers
// and evicts idle ones, suspending them first.
package worker
