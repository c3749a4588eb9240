package pebblestore

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL before every commit returns. An oplog
	// append is durable as soon as it is acknowledged.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble group WAL syncs of commits that land
	// within Options.FsyncInterval of each other.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble. A crash may lose acknowledged
	// oplog entries, which replay then treats as never written.
	FsyncModeNever
)

const defaultFsyncInterval = 5 * time.Millisecond

func (m FsyncMode) String() string {
	switch m {
	case FsyncModeAlways:
		return "always"
	case FsyncModeInterval:
		return "interval"
	case FsyncModeNever:
		return "never"
	}
	return "unspecified"
}

// ParseFsyncMode accepts always, interval or never. Empty means always.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, fmt.Errorf("invalid fsync mode %q; use always|interval|never", s)
}

// configure sets the WAL sync interval on po and returns the write options
// every commit uses.
func (m FsyncMode) configure(po *pebble.Options, interval time.Duration) *pebble.WriteOptions {
	if interval <= 0 {
		interval = defaultFsyncInterval
	}
	switch m {
	case FsyncModeAlways:
		return pebble.Sync
	case FsyncModeNever:
		return pebble.NoSync
	}
	po.WALMinSyncInterval = func() time.Duration { return interval }
	return pebble.NoSync
}
