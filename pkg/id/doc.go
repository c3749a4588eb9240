// Package id mints 128-bit, lexicographically sortable identifiers.
//
// The executor uses them as idempotency keys for invocations that arrive
// without one. An ID is [8 bytes ms timestamp][4 bytes node][4 bytes
// sequence], big-endian, where node is random per Generator. Byte order is
// creation order within a Generator, and two executors minting keys in the
// same millisecond still produce different ones.
//
//	key := id.New().String()
//	parsed, _ := id.Parse(key)
//	_ = parsed.Time()
package id
