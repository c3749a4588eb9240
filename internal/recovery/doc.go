// Package recovery decides how a failing worker continues: retried after a
// backoff, restarted immediately, or left failed. All inputs are derived
// from the oplog, so the retry count survives restarts without a separate
// counter.
package recovery
