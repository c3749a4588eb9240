package host

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/internal/workerconfig"
)

// Minimal WebAssembly binary assembly for test programs.

const (
	i32 = 0x7f
	i64 = 0x7e
)

type wasmFunc struct {
	params, results []byte
	body            []byte
	export          string
}

type wasmImport struct {
	module, name    string
	params, results []byte
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte { return append(uleb(uint32(len(s))), s...) }

func section(id byte, content []byte) []byte {
	return append(append([]byte{id}, uleb(uint32(len(content)))...), content...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

// assemble builds a module; imported functions come first in the function
// index space. memPages > 0 declares a memory with that minimum.
func assemble(imports []wasmImport, funcs []wasmFunc, memPages uint32) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types, imps, fidx, exps, codes [][]byte
	for _, im := range imports {
		types = append(types, funcType(im.params, im.results))
		imp := append(name(im.module), name(im.name)...)
		imps = append(imps, append(imp, 0x00, byte(len(types)-1)))
	}
	for k, f := range funcs {
		types = append(types, funcType(f.params, f.results))
		fidx = append(fidx, uleb(uint32(len(types)-1)))
		if f.export != "" {
			exp := append(name(f.export), 0x00)
			exps = append(exps, append(exp, uleb(uint32(len(imports)+k))...))
		}
		body := append([]byte{0x00}, f.body...)
		body = append(body, 0x0b)
		codes = append(codes, append(uleb(uint32(len(body))), body...))
	}
	out = append(out, section(1, vec(types...))...)
	if len(imps) > 0 {
		out = append(out, section(2, vec(imps...))...)
	}
	out = append(out, section(3, vec(fidx...))...)
	if memPages > 0 {
		out = append(out, section(5, vec(append([]byte{0x00}, uleb(memPages)...)))...)
	}
	out = append(out, section(7, vec(exps...))...)
	out = append(out, section(10, vec(codes...))...)
	return out
}

const (
	opUnreachable = 0x00
	opCall        = 0x10
	opLocalGet    = 0x20
	opI32Const    = 0x41
	opI64Add      = 0x7c
)

func testSpec(t *testing.T, bin []byte, memory uint64) (Spec, oplog.Store) {
	t.Helper()
	w, err := model.ParseWorkerID("5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11/wasm")
	require.NoError(t, err)
	store := oplog.NewMemoryStore()
	exec, err := durability.Open(context.Background(), durability.Options{Store: store, Worker: w})
	require.NoError(t, err)
	return Spec{
		Worker:           w,
		ComponentVersion: 1,
		Binary:           bin,
		Config:           workerconfig.Build(w, 1, nil, nil, oplog.DeletedRegions{}, memory),
		Exec:             exec,
	}, store
}

func instantiate(t *testing.T, spec Spec) Instance {
	t.Helper()
	h := NewWasmHost(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	inst, err := h.Instantiate(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(context.Background()) })
	return inst
}

func TestWasmInvokeAdd(t *testing.T) {
	bin := assemble(nil, []wasmFunc{{
		params: []byte{i64, i64}, results: []byte{i64},
		body:   []byte{opLocalGet, 0, opLocalGet, 1, opI64Add},
		export: "add",
	}}, 0)
	spec, _ := testSpec(t, bin, 0)
	inst := instantiate(t, spec)

	out, err := inst.Invoke(context.Background(), "add", json.RawMessage(`[40, 2]`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[42]`, string(out))

	_, err = inst.Invoke(context.Background(), "add", json.RawMessage(`[1]`), nil)
	assert.Equal(t, trap.FailureInvalidRequest, trap.FromError(err).Kind)
	_, err = inst.Invoke(context.Background(), "missing", nil, nil)
	assert.Equal(t, trap.FailureInvalidRequest, trap.FromError(err).Kind)
}

func TestWasmTrapsClassify(t *testing.T) {
	bin := assemble(nil, []wasmFunc{
		{body: []byte{opUnreachable}, export: "crash"},
		{body: []byte{opCall, 1}, export: "recurse"},
	}, 0)
	spec, _ := testSpec(t, bin, 0)
	inst := instantiate(t, spec)

	_, err := inst.Invoke(context.Background(), "crash", nil, nil)
	require.Error(t, err)
	tt := trap.ClassifyError(err)
	assert.Equal(t, trap.TagError, tt.Tag)
	assert.Equal(t, trap.Unknown, tt.Error.Kind)
	assert.Contains(t, tt.Error.Message, "unreachable")

	_, err = inst.Invoke(context.Background(), "recurse", nil, nil)
	require.Error(t, err)
	tt = trap.ClassifyError(err)
	assert.Equal(t, trap.StackOverflow, tt.Error.Kind)
}

func TestWasmExit(t *testing.T) {
	bin := assemble(
		[]wasmImport{{module: HostModule, name: "exit", params: []byte{i32}}},
		[]wasmFunc{{body: []byte{opI32Const, 3, opCall, 0}, export: "quit"}},
		0)
	spec, _ := testSpec(t, bin, 0)
	inst := instantiate(t, spec)

	_, err := inst.Invoke(context.Background(), "quit", nil, nil)
	require.Error(t, err)
	assert.Equal(t, trap.TagExit, trap.ClassifyError(err).Tag)
}

func TestWasmDurableHostFunctions(t *testing.T) {
	bin := assemble(
		[]wasmImport{{module: HostModule, name: "random_u64", results: []byte{i64}}},
		[]wasmFunc{{results: []byte{i64}, body: []byte{opCall, 0}, export: "roll"}},
		0)
	spec, store := testSpec(t, bin, 0)
	inst := instantiate(t, spec)

	first, err := inst.Invoke(context.Background(), "roll", nil, nil)
	require.NoError(t, err)
	recs, err := store.Read(context.Background(), spec.Worker, oplog.InitialIndex, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, durability.FunctionRandomU64, recs[0].Entry.FunctionName)

	replay, err := durability.Open(context.Background(), durability.Options{Store: store, Worker: spec.Worker})
	require.NoError(t, err)
	spec.Exec = replay
	again := instantiate(t, spec)
	second, err := again.Invoke(context.Background(), "roll", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestWasmInterruptAtCheckpoint(t *testing.T) {
	bin := assemble(
		[]wasmImport{{module: HostModule, name: "checkpoint"}},
		[]wasmFunc{{body: []byte{opCall, 0}, export: "work"}},
		0)
	spec, store := testSpec(t, bin, 0)
	exec, err := durability.Open(context.Background(), durability.Options{
		Store:       store,
		Worker:      spec.Worker,
		Interrupted: func() error { return trap.Interrupted(trap.Suspend) },
	})
	require.NoError(t, err)
	spec.Exec = exec
	inst := instantiate(t, spec)

	_, err = inst.Invoke(context.Background(), "work", nil, nil)
	require.Error(t, err)
	tt := trap.ClassifyError(err)
	assert.Equal(t, trap.TagInterrupt, tt.Tag)
	assert.Equal(t, trap.Suspend, tt.Interrupt)
}

func TestWasmMemoryLimit(t *testing.T) {
	bin := assemble(nil, []wasmFunc{{body: nil, export: "noop"}}, 4)
	spec, _ := testSpec(t, bin, 2*wasmPageSize)
	h := NewWasmHost(nil)
	defer h.Close(context.Background())
	_, err := h.Instantiate(context.Background(), spec)
	require.Error(t, err)
	kind := trap.FromError(err).Kind
	assert.True(t, kind == trap.FailureOutOfMemory || kind == trap.FailureInvalidRequest, "got %v: %v", kind, err)
}

func TestWasmInvalidProgram(t *testing.T) {
	spec, _ := testSpec(t, []byte("not wasm"), 0)
	h := NewWasmHost(nil)
	defer h.Close(context.Background())
	_, err := h.Instantiate(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, trap.FailureInvalidRequest, trap.FromError(err).Kind)
	assert.True(t, strings.Contains(err.Error(), "invalid program"))
}
