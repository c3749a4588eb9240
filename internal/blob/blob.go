// Package blob stores large payloads outside the oplog: archived oplog
// segments and component program binaries.
//
// Objects are addressed by a namespace and a slash-separated path:
//
//	_ = store.Put(ctx, "oplog", "c0ffee.../w1/1-512.json.gz", data)
//	data, err := store.Get(ctx, "components", id+"/3.wasm")
//	paths, _ := store.List(ctx, "oplog", "c0ffee.../w1/")
//
// Two backends exist: SQLite (durable, schema managed by embedded
// migrations) and memory (tests, ephemeral deployments).
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for missing objects.
var ErrNotFound = errors.New("blob not found")

// Well-known namespaces.
const (
	NamespaceOplog      = "oplog"
	NamespaceComponents = "components"
)

// Store is the blob storage capability set.
type Store interface {
	Get(ctx context.Context, namespace, path string) ([]byte, error)
	Put(ctx context.Context, namespace, path string, data []byte) error
	Delete(ctx context.Context, namespace, path string) error
	// List returns the paths under prefix in ascending order.
	List(ctx context.Context, namespace, prefix string) ([]string, error)
	Close() error
}
