// Package component keeps component metadata in Pebble and program
// binaries in blob storage. Every registration of an existing component
// creates the next version.
package component

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/model"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
)

// ErrNotFound is returned for unknown components or versions.
var ErrNotFound = errors.New("component not found")

// Metadata describes one version of a component.
type Metadata struct {
	ID          model.ComponentID      `json:"id"`
	Name        string                 `json:"name"`
	Version     model.ComponentVersion `json:"version"`
	Type        model.ComponentType    `json:"type"`
	Size        int                    `json:"size"`
	CreatedAtMs int64                  `json:"createdAtMs"`
	BinaryPath  string                 `json:"binaryPath"`
}

var metaPrefix = []byte("compmeta/")

// metaKey is compmeta/{id}/{version_be8}; versions sort numerically.
func metaKey(id model.ComponentID, v model.ComponentVersion) []byte {
	k := make([]byte, 0, len(metaPrefix)+36+1+8)
	k = append(k, metaPrefix...)
	k = append(k, id.String()...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, uint64(v))
}

func componentPrefix(id model.ComponentID) []byte {
	k := append([]byte(nil), metaPrefix...)
	k = append(k, id.String()...)
	return append(k, '/')
}

func binaryPath(id model.ComponentID, v model.ComponentVersion) string {
	return id.String() + "/" + strconv.FormatUint(uint64(v), 10) + ".wasm"
}

// Registry stores component versions.
type Registry struct {
	db    *pebblestore.DB
	blobs blob.Store
	mu    sync.Mutex
}

func NewRegistry(db *pebblestore.DB, blobs blob.Store) *Registry {
	return &Registry{db: db, blobs: blobs}
}

// Register stores bin as the next version of component id.
func (r *Registry) Register(ctx context.Context, id model.ComponentID, name string, ct model.ComponentType, bin []byte) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := model.ComponentVersion(0)
	if latest, err := r.latest(id); err == nil {
		next = latest.Version + 1
	} else if !errors.Is(err, ErrNotFound) {
		return Metadata{}, err
	}

	m := Metadata{
		ID:          id,
		Name:        name,
		Version:     next,
		Type:        ct,
		Size:        len(bin),
		CreatedAtMs: time.Now().UnixMilli(),
		BinaryPath:  binaryPath(id, next),
	}
	if err := r.blobs.Put(ctx, blob.NamespaceComponents, m.BinaryPath, bin); err != nil {
		return Metadata{}, fmt.Errorf("store component binary: %w", err)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Metadata{}, err
	}
	if err := r.db.Set(metaKey(id, next), b); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Get returns a specific version.
func (r *Registry) Get(_ context.Context, id model.ComponentID, v model.ComponentVersion) (Metadata, error) {
	b, err := r.db.Get(metaKey(id, v))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Metadata{}, fmt.Errorf("%w: %s version %d", ErrNotFound, id, v)
	}
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Latest returns the highest registered version.
func (r *Registry) Latest(_ context.Context, id model.ComponentID) (Metadata, error) {
	return r.latest(id)
}

func (r *Registry) latest(id model.ComponentID) (Metadata, error) {
	prefix := componentPrefix(id)
	iter, err := r.db.PrefixIter(prefix)
	if err != nil {
		return Metadata{}, err
	}
	defer iter.Close()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Metadata{}, err
		}
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var m Metadata
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Binary returns the program image of a version.
func (r *Registry) Binary(ctx context.Context, id model.ComponentID, v model.ComponentVersion) ([]byte, error) {
	m, err := r.Get(ctx, id, v)
	if err != nil {
		return nil, err
	}
	b, err := r.blobs.Get(ctx, blob.NamespaceComponents, m.BinaryPath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: binary of %s version %d", ErrNotFound, id, v)
	}
	return b, err
}

// List returns the latest version of every component.
func (r *Registry) List(_ context.Context) ([]Metadata, error) {
	iter, err := r.db.PrefixIter(metaPrefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Metadata
	for ok := iter.First(); ok; ok = iter.Next() {
		var m Metadata
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == m.ID {
			out[n-1] = m
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}
