package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/golemcloud/golem-sub031/internal/component"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/rpc"
	"github.com/golemcloud/golem-sub031/internal/shard"
	"github.com/golemcloud/golem-sub031/internal/status"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/internal/worker"
	"github.com/golemcloud/golem-sub031/pkg/id"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

const tracerName = "github.com/golemcloud/golem-sub031/internal/executor"

var (
	// ErrWorkerNotFound is returned for workers without an oplog.
	ErrWorkerNotFound = worker.ErrNotFound
	// ErrInvalidRequest wraps malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// Components is the component registry as seen by the executor.
type Components interface {
	Register(ctx context.Context, id model.ComponentID, name string, ct model.ComponentType, bin []byte) (component.Metadata, error)
	Get(ctx context.Context, id model.ComponentID, v model.ComponentVersion) (component.Metadata, error)
	Latest(ctx context.Context, id model.ComponentID) (component.Metadata, error)
	Binary(ctx context.Context, id model.ComponentID, v model.ComponentVersion) ([]byte, error)
}

// Options configures New.
type Options struct {
	Oplog      oplog.Store
	Components Components
	Host       host.Host
	Shards     *shard.Manager
	// Remote forwards calls to workers on shards this executor does not
	// own. Optional.
	Remote     rpc.Proxy
	Retry      model.RetryConfig
	MemorySize uint64
	Workers    worker.RegistryOptions
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	Logger     log.Logger
}

// Executor hosts the workers of the shards it owns. Every worker operation
// first checks shard ownership.
type Executor struct {
	oplog      oplog.Store
	components Components
	shards     *shard.Manager
	registry   *worker.Registry
	retry      model.RetryConfig
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     log.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// New builds an executor. Workers it loads run until ctx is cancelled or
// Close is called.
func New(ctx context.Context, opts Options) *Executor {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Retry == (model.RetryConfig{}) {
		opts.Retry = model.DefaultRetryConfig()
	}
	if opts.Shards == nil {
		opts.Shards = shard.NewManager(shard.Assignment{})
	}
	e := &Executor{
		oplog:      opts.Oplog,
		components: opts.Components,
		shards:     opts.Shards,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With(log.Component("executor")),
		ctx:        ctx,
	}

	deps := worker.Deps{
		Oplog:      opts.Oplog,
		Host:       opts.Host,
		Components: opts.Components,
		Proxy: &rpc.Router{
			Local:  rpc.ProxyFunc(e.invokeLocal),
			Remote: opts.Remote,
			Owns:   func(id model.WorkerID) bool { return e.shards.CheckWorker(id) == nil },
		},
		Retry:      opts.Retry,
		MemorySize: opts.MemorySize,
		Tracer:     opts.Tracer,
		Logger:     opts.Logger,
	}
	if opts.Metrics != nil {
		deps.Observer = opts.Metrics
	}
	onEvict := opts.Workers.OnEvict
	opts.Workers.OnEvict = func(id model.WorkerID) {
		e.metrics.IncEvictions()
		if onEvict != nil {
			onEvict(id)
		}
	}
	e.registry = worker.NewRegistry(ctx, deps, opts.Workers)

	e.metrics.SetOwnedShards(len(e.shards.Current().ShardIDs))
	e.shards.Subscribe(e.onShardsChanged)
	return e
}

// span starts the trace span of one API call. The returned func ends it
// and records the outcome.
func (e *Executor) span(ctx context.Context, method string, w *model.WorkerID) (context.Context, func(*error)) {
	attrs := []attribute.KeyValue{attribute.String("executor.method", method)}
	if w != nil {
		attrs = append(attrs, attribute.String("worker.id", w.String()))
	}
	ctx, span := e.tracer.Start(ctx, "executor."+method, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveRequest(method, time.Since(started), err)
	}
}

func (e *Executor) check(id model.WorkerID) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return e.shards.CheckWorker(id)
}

// CreateWorker records a new worker of the given component version, or of
// the latest version when version is nil.
func (e *Executor) CreateWorker(ctx context.Context, w model.WorkerID, version *model.ComponentVersion, args []string, env []model.EnvVar) (_ component.Metadata, err error) {
	ctx, end := e.span(ctx, "CreateWorker", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return component.Metadata{}, err
	}
	md, err := e.resolveComponent(ctx, w.ComponentID, version)
	if err != nil {
		return component.Metadata{}, err
	}
	if _, err := e.registry.Create(ctx, w, md.Version, md.Type, args, env); err != nil {
		return component.Metadata{}, err
	}
	e.metrics.SetActiveWorkers(e.registry.Len())
	e.logger.Info("worker created",
		log.Str(log.WorkerIDKey, w.String()),
		log.Uint64("component_version", uint64(md.Version)))
	return md, nil
}

func (e *Executor) resolveComponent(ctx context.Context, cid model.ComponentID, version *model.ComponentVersion) (component.Metadata, error) {
	if e.components == nil {
		return component.Metadata{ID: cid}, nil
	}
	if version != nil {
		return e.components.Get(ctx, cid, *version)
	}
	return e.components.Latest(ctx, cid)
}

// activate returns the loaded worker, loading it from its oplog or creating
// it with the latest component version when it does not exist yet.
func (e *Executor) activate(ctx context.Context, id model.WorkerID) (*worker.Worker, error) {
	defer func() { e.metrics.SetActiveWorkers(e.registry.Len()) }()
	w, err := e.registry.GetOrCreate(ctx, id)
	if !errors.Is(err, worker.ErrNotFound) {
		return w, err
	}
	md, err := e.resolveComponent(ctx, id.ComponentID, nil)
	if err != nil {
		return nil, err
	}
	w, err = e.registry.Create(ctx, id, md.Version, md.Type, nil, nil)
	if errors.Is(err, worker.ErrAlreadyExists) {
		return e.registry.GetOrCreate(ctx, id)
	}
	return w, err
}

// Invoke enqueues an invocation and returns without waiting. An empty key
// is replaced by a generated one.
func (e *Executor) Invoke(ctx context.Context, w model.WorkerID, function string, input json.RawMessage, key model.IdempotencyKey) (_ model.IdempotencyKey, err error) {
	ctx, end := e.span(ctx, "Invoke", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return "", err
	}
	if key == "" {
		key = model.IdempotencyKey(id.New().String())
	}
	wk, err := e.activate(ctx, w)
	if err != nil {
		return "", err
	}
	if _, err := wk.Invoke(ctx, function, input, key); err != nil {
		return "", err
	}
	return key, nil
}

// InvokeAndAwait runs an invocation and waits for its result.
func (e *Executor) InvokeAndAwait(ctx context.Context, w model.WorkerID, function string, input json.RawMessage, key model.IdempotencyKey) (_ json.RawMessage, _ model.IdempotencyKey, err error) {
	ctx, end := e.span(ctx, "InvokeAndAwait", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return nil, "", err
	}
	if key == "" {
		key = model.IdempotencyKey(id.New().String())
	}
	wk, err := e.activate(ctx, w)
	if err != nil {
		return nil, "", err
	}
	out, err := wk.InvokeAndAwait(ctx, function, input, key)
	return out, key, err
}

func (e *Executor) invokeLocal(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error) {
	out, _, err := e.InvokeAndAwait(ctx, target, function, args, key)
	return out, err
}

// Interrupt interrupts, suspends or restarts the running instance.
func (e *Executor) Interrupt(ctx context.Context, w model.WorkerID, kind trap.InterruptKind) (err error) {
	ctx, end := e.span(ctx, "Interrupt", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return err
	}
	if kind == trap.Jump {
		return fmt.Errorf("%w: use Jump to jump", ErrInvalidRequest)
	}
	wk, err := e.registry.GetOrCreate(ctx, w)
	if err != nil {
		return err
	}
	return wk.Interrupt(ctx, kind)
}

// Resume restarts a suspended or interrupted worker.
func (e *Executor) Resume(ctx context.Context, w model.WorkerID) (err error) {
	ctx, end := e.span(ctx, "Resume", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return err
	}
	wk, err := e.registry.GetOrCreate(ctx, w)
	if err != nil {
		return err
	}
	return wk.Resume(ctx)
}

// Jump deletes the worker's oplog after target and restarts it.
func (e *Executor) Jump(ctx context.Context, w model.WorkerID, target oplog.Index) (err error) {
	ctx, end := e.span(ctx, "Jump", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return err
	}
	wk, err := e.registry.GetOrCreate(ctx, w)
	if err != nil {
		return err
	}
	return wk.Jump(ctx, target)
}

// SetRetryPolicy overrides the retry policy of one worker.
func (e *Executor) SetRetryPolicy(ctx context.Context, w model.WorkerID, cfg model.RetryConfig) (err error) {
	ctx, end := e.span(ctx, "SetRetryPolicy", &w)
	defer end(&err)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: retry policy: %v", ErrInvalidRequest, err)
	}
	if err := e.check(w); err != nil {
		return err
	}
	wk, err := e.registry.GetOrCreate(ctx, w)
	if err != nil {
		return err
	}
	return wk.SetRetryPolicy(ctx, cfg)
}

// Metadata is the externally visible state of a worker.
type Metadata struct {
	Worker model.WorkerID
	Record status.Record
	// Active is set while an instance is loaded; Phase is only meaningful
	// then.
	Active  bool
	Phase   status.Phase
	RetryAt time.Time
}

// GetMetadata returns the worker's status. Workers that are not loaded are
// read from their oplog without loading them.
func (e *Executor) GetMetadata(ctx context.Context, w model.WorkerID) (_ Metadata, err error) {
	ctx, end := e.span(ctx, "GetMetadata", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return Metadata{}, err
	}
	return e.metadata(ctx, w)
}

func (e *Executor) metadata(ctx context.Context, w model.WorkerID) (Metadata, error) {
	if wk, ok := e.registry.Get(w); ok {
		s := wk.Status()
		return Metadata{Worker: w, Record: s.Record, Active: s.Active, Phase: s.Phase, RetryAt: s.RetryAt}, nil
	}
	tail, err := e.oplog.Tail(ctx, w)
	if err != nil {
		return Metadata{}, err
	}
	if tail == oplog.NoIndex {
		return Metadata{}, fmt.Errorf("%s: %w", w, ErrWorkerNotFound)
	}
	rec, err := status.Calculate(ctx, e.oplog, w, e.retry, nil)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Worker: w, Record: rec}, nil
}

// ListWorkers returns the metadata of every worker on an owned shard that
// matches filter.
func (e *Executor) ListWorkers(ctx context.Context, filter WorkerFilter) (_ []Metadata, err error) {
	ctx, end := e.span(ctx, "ListWorkers", nil)
	defer end(&err)
	ids, err := e.oplog.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	assignment := e.shards.Current()
	out := make([]Metadata, 0, len(ids))
	for _, w := range ids {
		if assignment.CheckWorker(w) != nil {
			continue
		}
		md, err := e.metadata(ctx, w)
		if err != nil {
			return nil, err
		}
		if filter.Match(md) {
			out = append(out, md)
		}
	}
	return out, nil
}

// ReadOplog returns up to n entries starting at from, and the deleted
// regions so callers can mark them.
func (e *Executor) ReadOplog(ctx context.Context, w model.WorkerID, from oplog.Index, n int) (_ []oplog.Record, _ oplog.DeletedRegions, err error) {
	ctx, end := e.span(ctx, "ReadOplog", &w)
	defer end(&err)
	if err := e.check(w); err != nil {
		return nil, oplog.DeletedRegions{}, err
	}
	if from < oplog.InitialIndex {
		from = oplog.InitialIndex
	}
	recs, err := e.oplog.Read(ctx, w, from, n)
	if err != nil {
		return nil, oplog.DeletedRegions{}, err
	}
	if len(recs) == 0 {
		tail, err := e.oplog.Tail(ctx, w)
		if err != nil {
			return nil, oplog.DeletedRegions{}, err
		}
		if tail == oplog.NoIndex {
			return nil, oplog.DeletedRegions{}, fmt.Errorf("%s: %w", w, ErrWorkerNotFound)
		}
	}
	deleted, err := e.oplog.DeletedRegions(ctx, w)
	return recs, deleted, err
}

// RegisterComponent stores a program. A nil id creates a new component;
// otherwise a new version of id is added.
func (e *Executor) RegisterComponent(ctx context.Context, cid *model.ComponentID, name string, ct model.ComponentType, bin []byte) (_ component.Metadata, err error) {
	ctx, end := e.span(ctx, "RegisterComponent", nil)
	defer end(&err)
	if e.components == nil {
		return component.Metadata{}, fmt.Errorf("%w: no component store", ErrInvalidRequest)
	}
	id := model.NewComponentID()
	if cid != nil {
		id = *cid
	}
	md, err := e.components.Register(ctx, id, name, ct, bin)
	if err != nil {
		return component.Metadata{}, err
	}
	e.logger.Info("component registered",
		log.Str("component_id", md.ID.String()),
		log.Uint64("version", uint64(md.Version)),
		log.Int("size", md.Size))
	return md, nil
}

// Shards returns the current assignment.
func (e *Executor) Shards() shard.Assignment { return e.shards.Current() }

// AssignShards adds shards and recovers their workers.
func (e *Executor) AssignShards(ctx context.Context, numberOfShards int, ids ...shard.ID) (_ shard.Assignment, err error) {
	ctx, end := e.span(ctx, "AssignShards", nil)
	defer end(&err)
	if numberOfShards <= 0 {
		return shard.Assignment{}, fmt.Errorf("%w: number of shards must be positive", ErrInvalidRequest)
	}
	for _, s := range ids {
		if s < 0 || int(s) >= numberOfShards {
			return shard.Assignment{}, fmt.Errorf("%w: shard %s out of range", ErrInvalidRequest, s)
		}
	}
	e.shards.Assign(numberOfShards, ids...)
	added := shard.NewAssignment(numberOfShards, ids...)
	if _, err := e.recover(ctx, func(w model.WorkerID) bool { return added.CheckWorker(w) == nil }); err != nil {
		return e.shards.Current(), err
	}
	return e.shards.Current(), nil
}

// RevokeShards removes shards; their loaded workers are suspended and
// evicted.
func (e *Executor) RevokeShards(ctx context.Context, ids ...shard.ID) (_ shard.Assignment, err error) {
	_, end := e.span(ctx, "RevokeShards", nil)
	defer end(&err)
	e.shards.Revoke(ids...)
	return e.shards.Current(), nil
}

func (e *Executor) onShardsChanged(prev, next shard.Assignment) {
	e.metrics.SetOwnedShards(len(next.ShardIDs))
	lost := shard.Lost(prev, next)
	if len(lost) == 0 {
		return
	}
	e.logger.Info("shards revoked", log.Any("shards", lost))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.registry.EvictWhere(e.ctx, func(w model.WorkerID) bool { return next.CheckWorker(w) != nil })
		if err != nil {
			e.logger.Warn("evict workers of revoked shards", log.Err(err))
		}
		e.metrics.SetActiveWorkers(e.registry.Len())
	}()
}

// RecoverOnStartup loads every worker on an owned shard that was running
// or retrying when the process stopped. It returns how many were loaded.
func (e *Executor) RecoverOnStartup(ctx context.Context) (_ int, err error) {
	ctx, end := e.span(ctx, "RecoverOnStartup", nil)
	defer end(&err)
	assignment := e.shards.Current()
	return e.recover(ctx, func(w model.WorkerID) bool { return assignment.CheckWorker(w) == nil })
}

func (e *Executor) recover(ctx context.Context, owned func(model.WorkerID) bool) (int, error) {
	ids, err := e.oplog.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, w := range ids {
		if !owned(w) {
			continue
		}
		rec, err := status.Calculate(ctx, e.oplog, w, e.retry, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", w, err))
			continue
		}
		if rec.Status != status.Running && rec.Status != status.Retrying {
			continue
		}
		if _, err := e.registry.GetOrCreate(ctx, w); err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", w, err))
			continue
		}
		n++
	}
	e.metrics.SetActiveWorkers(e.registry.Len())
	if n > 0 {
		e.logger.Info("recovered workers", log.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// Run sweeps idle workers every interval until ctx is done.
func (e *Executor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.registry.Sweep(ctx, now)
			e.metrics.SetActiveWorkers(e.registry.Len())
		}
	}
}

// Close suspends and unloads every worker.
func (e *Executor) Close(ctx context.Context) error {
	err := e.registry.StopAll(ctx)
	e.wg.Wait()
	e.metrics.SetActiveWorkers(0)
	return err
}
