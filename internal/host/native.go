package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/rpc"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/internal/workerconfig"
)

// Func is an exported function of a native program.
type Func func(ctx context.Context, env *Env, request json.RawMessage) (json.RawMessage, error)

// Program is a set of exported functions implemented in Go.
type Program map[string]Func

// Env is what a native function sees of its worker. State survives between
// invocations of the same instance and is rebuilt by replay after restarts.
type Env struct {
	Worker model.WorkerID
	Config workerconfig.WorkerConfig
	Exec   *durability.Execution
	Proxy  rpc.Proxy
	Stderr io.Writer
	State  map[string]any
}

// Now is the durable wall clock.
func (e *Env) Now(ctx context.Context) (time.Time, error) { return durability.Now(ctx, e.Exec) }

// RandomU64 is a durable random number.
func (e *Env) RandomU64(ctx context.Context) (uint64, error) {
	return durability.RandomU64(ctx, e.Exec)
}

// Invoke calls a function of another worker.
func (e *Env) Invoke(ctx context.Context, target model.WorkerID, function string, args json.RawMessage) (json.RawMessage, error) {
	return rpc.Invoke(ctx, e.Exec, e.Proxy, target, function, args)
}

// Exit terminates the program with code.
func (e *Env) Exit(code uint32) error { return trap.Exited(code) }

// Checkpoint returns the pending interrupt, if any.
func (e *Env) Checkpoint() error { return e.Exec.Checkpoint() }

// NativeHost runs programs registered by component id.
type NativeHost struct {
	mu       sync.RWMutex
	programs map[model.ComponentID]Program
}

func NewNativeHost() *NativeHost {
	return &NativeHost{programs: make(map[model.ComponentID]Program)}
}

// Register binds p to component id.
func (h *NativeHost) Register(id model.ComponentID, p Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programs[id] = p
}

func (h *NativeHost) Instantiate(_ context.Context, spec Spec) (Instance, error) {
	h.mu.RLock()
	p, ok := h.programs[spec.Worker.ComponentID]
	h.mu.RUnlock()
	if !ok {
		return nil, trap.InvalidRequestFailure(fmt.Sprintf("%v: %s", ErrUnknownProgram, spec.Worker.ComponentID))
	}
	return &nativeInstance{
		program: p,
		env: &Env{
			Worker: spec.Worker,
			Config: spec.Config,
			Exec:   spec.Exec,
			Proxy:  spec.Proxy,
			State:  make(map[string]any),
		},
	}, nil
}

type nativeInstance struct {
	program Program
	env     *Env
}

func (i *nativeInstance) Invoke(ctx context.Context, function string, request json.RawMessage, stderr io.Writer) (resp json.RawMessage, err error) {
	fn, ok := i.program[function]
	if !ok {
		return nil, trap.InvalidRequestFailure("function not found: " + function)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	i.env.Stderr = stderr
	defer func() {
		if r := recover(); r != nil {
			_, _ = stderr.Write(debug.Stack())
			if e, ok := r.(error); ok {
				err = &trap.Failure{Kind: trap.FailureOther, Details: "panic", Cause: e}
				return
			}
			err = &trap.Failure{Kind: trap.FailureOther, Details: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn(ctx, i.env, request)
}

func (i *nativeInstance) Close(context.Context) error { return nil }
