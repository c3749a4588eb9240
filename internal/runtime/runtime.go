package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golemcloud/golem-sub031/internal/blob"
	"github.com/golemcloud/golem-sub031/internal/component"
	cfgpkg "github.com/golemcloud/golem-sub031/internal/config"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	pebblestore "github.com/golemcloud/golem-sub031/internal/storage/pebble"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	// Host runs programs; defaults to the WebAssembly host.
	Host    host.Host
	Metrics *metrics.Metrics
	Logger  log.Logger
}

// Runtime owns the storage of one executor process: the Pebble database,
// the blob store, the oplog store and the component registry.
type Runtime struct {
	db         *pebblestore.DB
	blobs      blob.Store
	oplog      oplog.Store
	archiver   *oplog.Archiver
	components *component.Registry
	host       host.Host
	ownsHost   bool
	config     cfgpkg.Config
	logger     log.Logger
}

// ParseFsync maps a config value to a FsyncMode.
func ParseFsync(s string) (pebblestore.FsyncMode, error) {
	return pebblestore.ParseFsyncMode(s)
}

// Open initializes the underlying storage and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	cfg := opts.Config
	po := pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync}
	if opts.Metrics != nil {
		po.Metrics = opts.Metrics.Storage()
	}
	db, err := pebblestore.Open(po)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, config: cfg, logger: opts.Logger.With(log.Component("runtime"))}

	switch cfg.Blob.Backend {
	case "memory":
		rt.blobs = blob.NewMemoryStore()
	default:
		path := cfg.Blob.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.DataDir, path)
		}
		rt.blobs, err = blob.OpenSQLite(ctx, path)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	switch cfg.Oplog.Backend {
	case "memory":
		rt.oplog = oplog.NewMemoryStore()
	default:
		store := oplog.NewPebbleStore(db, rt.blobs)
		rt.oplog = store
		if cfg.Oplog.ArchiveAfter > 0 {
			rt.archiver = oplog.NewArchiver(store, oplog.ArchiverOptions{
				Age:        time.Duration(cfg.Oplog.ArchiveAfter),
				Batch:      cfg.Oplog.ArchiveBatch,
				Interval:   time.Duration(cfg.Oplog.ArchiveInterval),
				KeepLatest: cfg.Oplog.KeepLatest,
				OnArchive: func(_ model.WorkerID, r oplog.Region) {
					opts.Metrics.AddArchived(int(r.Len()))
				},
			}, opts.Logger)
		}
	}

	rt.components = component.NewRegistry(db, rt.blobs)
	rt.host = opts.Host
	if rt.host == nil {
		rt.host = host.NewWasmHost(opts.Logger)
		rt.ownsHost = true
	}
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if closer, ok := r.host.(interface{ Close(context.Context) error }); ok && r.ownsHost {
		errs = append(errs, closer.Close(context.Background()))
	}
	if r.blobs != nil {
		errs = append(errs, r.blobs.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := r.db.Ping(); err != nil {
		return fmt.Errorf("pebble: %w", err)
	}
	if _, err := r.blobs.List(ctx, blob.NamespaceComponents, ""); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	return nil
}

// RunArchiver moves old oplog entries to blob storage until ctx is done. It
// returns at once when archival is disabled.
func (r *Runtime) RunArchiver(ctx context.Context) {
	if r.archiver == nil {
		return
	}
	r.archiver.Run(ctx)
}

// Archiver is nil unless the Pebble oplog with archival is configured.
func (r *Runtime) Archiver() *oplog.Archiver { return r.archiver }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

func (r *Runtime) Blobs() blob.Store               { return r.blobs }
func (r *Runtime) Oplog() oplog.Store              { return r.oplog }
func (r *Runtime) Components() *component.Registry { return r.components }
func (r *Runtime) Host() host.Host                 { return r.host }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
