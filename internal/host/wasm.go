package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

// HostModule is the import module name of the functions the executor
// provides to WebAssembly programs.
const HostModule = "golem"

const wasmPageSize = 65536

// WasmHost runs WebAssembly programs with wazero. Each instance gets its own
// runtime so its linear memory limit is enforced independently; compiled
// code is shared through a compilation cache.
type WasmHost struct {
	cache  wazero.CompilationCache
	logger log.Logger
}

func NewWasmHost(logger log.Logger) *WasmHost {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &WasmHost{cache: wazero.NewCompilationCache(), logger: logger.With(log.Component("wasm-host"))}
}

// Close releases compiled code.
func (h *WasmHost) Close(ctx context.Context) error { return h.cache.Close(ctx) }

func (h *WasmHost) Instantiate(ctx context.Context, spec Spec) (Instance, error) {
	cfg := wazero.NewRuntimeConfig().WithCompilationCache(h.cache)
	if pages := spec.Config.TotalLinearMemorySize / wasmPageSize; pages > 0 && pages <= 65536 {
		cfg = cfg.WithMemoryLimitPages(uint32(pages))
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	inst := &wasmInstance{runtime: r, exec: spec.Exec, stderr: io.Discard}

	if err := inst.instantiateHostModule(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	compiled, err := r.CompileModule(ctx, spec.Binary)
	if err != nil {
		_ = r.Close(ctx)
		return nil, translateWasmError(trap.InvalidRequestFailure("invalid program: "+err.Error()), err)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(spec.Worker.String()).
		WithArgs(spec.Config.Args...).
		WithStderr(stderrProxy{inst}))
	if err != nil {
		_ = r.Close(ctx)
		return nil, translateWasmError(nil, err)
	}
	inst.module = mod
	h.logger.Debug("instantiated program",
		log.Str(log.WorkerIDKey, spec.Worker.String()),
		log.Uint64("component_version", uint64(spec.ComponentVersion)))
	return inst, nil
}

type wasmInstance struct {
	runtime wazero.Runtime
	module  api.Module
	exec    *durability.Execution
	stderr  io.Writer
}

// stderrProxy forwards to the writer of the current invocation.
type stderrProxy struct{ i *wasmInstance }

func (p stderrProxy) Write(b []byte) (int, error) { return p.i.stderr.Write(b) }

func (i *wasmInstance) instantiateHostModule(ctx context.Context) error {
	_, err := i.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(func(ctx context.Context) uint64 {
		t, err := durability.Now(ctx, i.exec)
		if err != nil {
			panic(err)
		}
		return uint64(t.UnixMilli())
	}).Export("now_ms").
		NewFunctionBuilder().WithFunc(func(ctx context.Context) uint64 {
		v, err := durability.RandomU64(ctx, i.exec)
		if err != nil {
			panic(err)
		}
		return v
	}).Export("random_u64").
		NewFunctionBuilder().WithFunc(func(context.Context) {
		if err := i.exec.Checkpoint(); err != nil {
			panic(err)
		}
	}).Export("checkpoint").
		NewFunctionBuilder().WithFunc(func(_ context.Context, code uint32) {
		panic(sys.NewExitError(code))
	}).Export("exit").
		NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, ptr, n uint32) {
		if b, ok := m.Memory().Read(ptr, n); ok {
			_, _ = i.stderr.Write(b)
		}
	}).Export("log").
		Instantiate(ctx)
	return err
}

// Invoke calls an exported function. Requests and responses are JSON arrays
// of integers matching the function's i32/i64 parameters and results.
func (i *wasmInstance) Invoke(ctx context.Context, function string, request json.RawMessage, stderr io.Writer) (json.RawMessage, error) {
	fn := i.module.ExportedFunction(function)
	if fn == nil {
		return nil, trap.InvalidRequestFailure("function not found: " + function)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	i.stderr = stderr
	defer func() { i.stderr = io.Discard }()

	var args []int64
	if len(request) > 0 && string(request) != "null" {
		if err := json.Unmarshal(request, &args); err != nil {
			return nil, trap.InvalidRequestFailure("request must be an array of integers: " + err.Error())
		}
	}
	def := fn.Definition()
	if len(args) != len(def.ParamTypes()) {
		return nil, trap.InvalidRequestFailure(fmt.Sprintf("%s expects %d arguments, got %d", function, len(def.ParamTypes()), len(args)))
	}
	params := make([]uint64, len(args))
	for k, t := range def.ParamTypes() {
		switch t {
		case api.ValueTypeI32:
			params[k] = api.EncodeI32(int32(args[k]))
		case api.ValueTypeI64:
			params[k] = api.EncodeI64(args[k])
		default:
			return nil, trap.InvalidRequestFailure(fmt.Sprintf("unsupported parameter type %s", api.ValueTypeName(t)))
		}
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, translateWasmError(nil, err)
	}
	out := make([]int64, len(results))
	for k, t := range def.ResultTypes() {
		if t == api.ValueTypeI32 {
			out[k] = int64(api.DecodeI32(results[k]))
		} else {
			out[k] = int64(results[k])
		}
	}
	return json.Marshal(out)
}

func (i *wasmInstance) Close(ctx context.Context) error { return i.runtime.Close(ctx) }

// translateWasmError tags a wazero error. Errors already carrying a
// trap.Failure, such as interrupts raised by host functions, pass through.
func translateWasmError(fallback *trap.Failure, err error) error {
	var f *trap.Failure
	if errors.As(err, &f) {
		return err
	}
	if durability.IsDivergence(err) {
		return err
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return trap.Exited(exit.ExitCode())
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stack overflow"):
		return trap.StackOverflowed(err)
	case strings.Contains(msg, "memory") && (strings.Contains(msg, "limit") || strings.Contains(msg, "out of memory")):
		return trap.OutOfMemoryFailure(err)
	case fallback != nil:
		return fallback
	default:
		return &trap.Failure{Kind: trap.FailureOther, Details: "wasm trap", Cause: err}
	}
}
