package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/golemcloud/golem-sub031/internal/config"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/rpc"
	"github.com/golemcloud/golem-sub031/internal/runtime"
	grpcserver "github.com/golemcloud/golem-sub031/internal/server/grpc"
	httpserver "github.com/golemcloud/golem-sub031/internal/server/http"
	"github.com/golemcloud/golem-sub031/internal/shard"
	"github.com/golemcloud/golem-sub031/internal/worker"
	logpkg "github.com/golemcloud/golem-sub031/pkg/log"
)

// shutdownTimeout bounds how long workers get to suspend on exit.
const shutdownTimeout = 30 * time.Second

type Options struct {
	Config cfgpkg.Config
	// RemoteAddr is the gRPC address calls to workers on foreign shards are
	// forwarded to. Empty rejects such calls.
	RemoteAddr string
	// Host overrides the program host; nil uses WebAssembly.
	Host host.Host
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
}

// Run starts the executor with its gRPC and HTTP servers and blocks until
// ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fsync, err := runtime.ParseFsync(cfg.Fsync)
	if err != nil {
		return err
	}

	procLogger := opts.Logger
	if procLogger == nil {
		procLogger, err = logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return err
		}
		// Pebble logs through the standard library.
		logpkg.RedirectStdLog(procLogger)
	}

	m := metrics.New()
	rt, err := runtime.Open(sctx, runtime.Options{
		DataDir: cfg.DataDir,
		Fsync:   fsync,
		Config:  cfg,
		Host:    opts.Host,
		Metrics: m,
		Logger:  procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	shards, source, err := newShardManager(cfg.Shards, procLogger)
	if err != nil {
		return err
	}

	var remote rpc.Proxy
	if opts.RemoteAddr != "" {
		p, err := rpc.DialGRPC(opts.RemoteAddr)
		if err != nil {
			return err
		}
		defer p.Close()
		remote = p
	}

	// Workers outlive sctx so they can suspend during shutdown.
	wctx, wcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer wcancel()
	exec := executor.New(wctx, executor.Options{
		Oplog:      rt.Oplog(),
		Components: rt.Components(),
		Host:       rt.Host(),
		Shards:     shards,
		Remote:     remote,
		Retry:      cfg.Retry.RetryConfig(),
		MemorySize: cfg.Memory.DefaultLinearMemoryBytes,
		Workers: worker.RegistryOptions{
			MaxActive:   cfg.ActiveWorkers.MaxActive,
			IdleTimeout: time.Duration(cfg.ActiveWorkers.IdleTimeout),
		},
		Metrics: m,
		Logger:  procLogger,
	})

	procLogger.Info("Starting worker executor",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Stringer("shards", shards.Current()),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	var wg sync.WaitGroup
	if source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := source.Run(sctx); err != nil && sctx.Err() == nil {
				procLogger.Error("shard assignment watcher stopped", logpkg.Err(err))
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		rt.RunArchiver(sctx)
	}()
	go func() {
		defer wg.Done()
		exec.Run(sctx, time.Duration(cfg.ActiveWorkers.SweepInterval))
	}()

	n, err := exec.RecoverOnStartup(sctx)
	if err != nil {
		procLogger.Warn("recovery finished with errors", logpkg.Int("recovered", n), logpkg.Err(err))
	} else {
		procLogger.Info("recovery finished", logpkg.Int("recovered", n))
	}

	gsrv := grpcserver.New(rt, exec, grpcserver.Options{Metrics: m, Logger: procLogger})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, cfg.GRPCAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc server stopped", logpkg.Err(err))
			stop()
		}
	}()

	var hsrv *httpserver.Server
	if cfg.HTTPAddr != "" {
		hsrv = httpserver.New(rt, exec, m, procLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
				procLogger.Error("http server stopped", logpkg.Err(err))
				stop()
			}
		}()
	}

	<-sctx.Done()
	procLogger.Info("Shutting down worker executor")
	// Servers stop before workers so no request races the suspension.
	gsrv.Close()
	if hsrv != nil {
		hsrv.Close()
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := exec.Close(cctx); err != nil {
		procLogger.Warn("suspend workers", logpkg.Err(err))
	}
	wg.Wait()
	return nil
}

// newShardManager builds the initial assignment. An assignment file wins
// over the inline shard list and is watched by the returned source.
func newShardManager(cfg cfgpkg.Shards, logger logpkg.Logger) (*shard.Manager, *shard.FileSource, error) {
	if cfg.AssignmentFile == "" {
		ids := make([]shard.ID, len(cfg.Owned))
		for i, id := range cfg.Owned {
			ids[i] = shard.ID(id)
		}
		return shard.NewManager(shard.NewAssignment(cfg.NumberOfShards, ids...)), nil, nil
	}
	a, err := shard.ReadAssignmentFile(cfg.AssignmentFile)
	if err != nil {
		return nil, nil, fmt.Errorf("shard assignment: %w", err)
	}
	m := shard.NewManager(a)
	return m, shard.NewFileSource(cfg.AssignmentFile, m, logger), nil
}
