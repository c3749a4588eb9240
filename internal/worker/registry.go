package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

// RegistryOptions bounds the set of active workers.
type RegistryOptions struct {
	// MaxActive is the number of loaded workers; zero means unbounded.
	MaxActive int
	// IdleTimeout is how long an idle worker stays loaded; zero disables
	// sweeping.
	IdleTimeout time.Duration
	// OnEvict is called after a worker was stopped and removed. Optional.
	OnEvict func(model.WorkerID)
}

// Registry holds the active workers of an executor. Workers are loaded on
// first use and evicted when idle.
//
// The lock is never held while a worker stops: evicted workers move to
// evicting and are stopped after it is released. Loading a worker that is
// still stopping waits for it, so one oplog never has two writers.
type Registry struct {
	ctx    context.Context
	deps   Deps
	opts   RegistryOptions
	logger log.Logger

	mu       sync.Mutex
	workers  map[model.WorkerID]*Worker
	evicting map[model.WorkerID]*Worker
}

// NewRegistry returns an empty registry. Workers it loads run until ctx is
// cancelled or they are evicted.
func NewRegistry(ctx context.Context, deps Deps, opts RegistryOptions) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		ctx:      ctx,
		deps:     deps,
		opts:     opts,
		logger:   logger.With(log.Component("worker-registry")),
		workers:  make(map[model.WorkerID]*Worker),
		evicting: make(map[model.WorkerID]*Worker),
	}
}

// Create records a new worker and loads it.
func (r *Registry) Create(ctx context.Context, id model.WorkerID, version model.ComponentVersion, ct model.ComponentType, args []string, env []model.EnvVar) (*Worker, error) {
	r.mu.Lock()
	if err := Create(ctx, r.deps.Oplog, id, version, ct, args, env); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	w, victim, err := r.loadLocked(id)
	r.mu.Unlock()
	r.stopEvicted(ctx, victim)
	return w, err
}

// Get returns a loaded worker.
func (r *Registry) Get(id model.WorkerID) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// GetOrCreate returns the loaded worker or loads it from its oplog.
// Workers without an oplog return ErrNotFound. A worker that is being
// evicted is loaded again once it has stopped.
func (r *Registry) GetOrCreate(ctx context.Context, id model.WorkerID) (*Worker, error) {
	for {
		r.mu.Lock()
		if w, ok := r.workers[id]; ok {
			r.mu.Unlock()
			return w, nil
		}
		if old, ok := r.evicting[id]; ok {
			r.mu.Unlock()
			select {
			case <-old.Done():
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		w, victim, err := r.loadLocked(id)
		r.mu.Unlock()
		r.stopEvicted(ctx, victim)
		return w, err
	}
}

// loadLocked loads id, detaching the least recently active idle worker
// when the registry is full. The caller stops the returned victim after
// releasing the lock.
func (r *Registry) loadLocked(id model.WorkerID) (w, victim *Worker, err error) {
	if w, ok := r.workers[id]; ok {
		return w, nil, nil
	}
	if r.opts.MaxActive > 0 && len(r.workers) >= r.opts.MaxActive {
		if victim = r.detachIdleLocked(); victim == nil {
			return nil, nil, ErrRegistryFull
		}
	}
	w, err = Load(r.ctx, id, r.deps)
	if err != nil {
		return nil, victim, err
	}
	r.workers[id] = w
	return w, victim, nil
}

func (r *Registry) detachIdleLocked() *Worker {
	var victim *Worker
	var oldest time.Time
	for _, w := range r.workers {
		s := w.Status()
		if !s.Idle() {
			continue
		}
		if victim == nil || s.LastActive.Before(oldest) {
			victim, oldest = w, s.LastActive
		}
	}
	if victim != nil {
		r.detachLocked(victim)
	}
	return victim
}

func (r *Registry) detachLocked(w *Worker) {
	delete(r.workers, w.ID())
	r.evicting[w.ID()] = w
}

func (r *Registry) stopEvicted(ctx context.Context, victim *Worker) {
	if victim == nil {
		return
	}
	if err := r.stop(ctx, []*Worker{victim}); err != nil {
		r.logger.Warn("evict worker", log.Str(log.WorkerIDKey, victim.ID().String()), log.Err(err))
	}
}

// stop shuts detached workers down concurrently. Workers that do not stop
// before ctx is done keep stopping in the background and are forgotten
// once they have.
func (r *Registry) stop(ctx context.Context, ws []*Worker) error {
	for _, w := range ws {
		w.requestStop()
	}
	var errs []error
	for _, w := range ws {
		if err := wait(ctx, w.Done()); err != nil {
			errs = append(errs, err)
			go func(w *Worker) {
				<-w.Done()
				r.forget(w)
			}(w)
			continue
		}
		r.forget(w)
	}
	return errors.Join(errs...)
}

func (r *Registry) forget(w *Worker) {
	r.mu.Lock()
	if r.evicting[w.ID()] == w {
		delete(r.evicting, w.ID())
	}
	r.mu.Unlock()
	if r.opts.OnEvict != nil {
		r.opts.OnEvict(w.ID())
	}
}

// Evict stops a loaded worker and forgets it. Unknown workers are ignored.
func (r *Registry) Evict(ctx context.Context, id model.WorkerID) error {
	return r.EvictWhere(ctx, func(w model.WorkerID) bool { return w == id })
}

// EvictWhere stops every loaded worker matching pred.
func (r *Registry) EvictWhere(ctx context.Context, pred func(model.WorkerID) bool) error {
	r.mu.Lock()
	var victims []*Worker
	for id, w := range r.workers {
		if pred(id) {
			r.detachLocked(w)
			victims = append(victims, w)
		}
	}
	r.mu.Unlock()
	return r.stop(ctx, victims)
}

// Sweep evicts workers idle for longer than the idle timeout and returns
// how many were evicted.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	if r.opts.IdleTimeout <= 0 {
		return 0
	}
	r.mu.Lock()
	var victims []*Worker
	for _, w := range r.workers {
		s := w.Status()
		if !s.Idle() || now.Sub(s.LastActive) < r.opts.IdleTimeout {
			continue
		}
		r.detachLocked(w)
		victims = append(victims, w)
	}
	r.mu.Unlock()
	if len(victims) == 0 {
		return 0
	}
	if err := r.stop(ctx, victims); err != nil {
		r.logger.Warn("evict idle workers", log.Err(err))
	}
	r.logger.Debug("evicted idle workers", log.Int("count", len(victims)))
	return len(victims)
}

// Active returns the ids of loaded workers, sorted.
func (r *Registry) Active() []model.WorkerID {
	r.mu.Lock()
	ids := make([]model.WorkerID, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// StopAll stops every loaded worker.
func (r *Registry) StopAll(ctx context.Context) error {
	return r.EvictWhere(ctx, func(model.WorkerID) bool { return true })
}
