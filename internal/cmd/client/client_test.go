package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
)

type executorStub struct {
	executorv1.UnimplementedWorkerExecutorServer
	lastInvoke    *executorv1.InvokeRequest
	lastInterrupt *executorv1.InterruptRequest
	lastList      *executorv1.ListWorkersRequest
	lastRegister  *executorv1.RegisterComponentRequest
	lastShards    *executorv1.ShardsRequest
	lastRetry     *executorv1.SetRetryPolicyRequest
}

func (s *executorStub) SetRetryPolicy(_ context.Context, req *executorv1.SetRetryPolicyRequest) (*executorv1.Empty, error) {
	s.lastRetry = req
	return &executorv1.Empty{}, nil
}

func (s *executorStub) CreateWorker(_ context.Context, req *executorv1.CreateWorkerRequest) (*executorv1.CreateWorkerResponse, error) {
	v := uint64(0)
	if req.ComponentVersion != nil {
		v = *req.ComponentVersion
	}
	return &executorv1.CreateWorkerResponse{Worker: req.Worker, ComponentVersion: v}, nil
}

func (s *executorStub) Invoke(_ context.Context, req *executorv1.InvokeRequest) (*executorv1.InvokeResponse, error) {
	s.lastInvoke = req
	return &executorv1.InvokeResponse{IdempotencyKey: "generated"}, nil
}

func (s *executorStub) InvokeAndAwait(_ context.Context, req *executorv1.InvokeRequest) (*executorv1.InvokeAndAwaitResponse, error) {
	s.lastInvoke = req
	return &executorv1.InvokeAndAwaitResponse{IdempotencyKey: req.IdempotencyKey, Result: `{"n":3}`}, nil
}

func (s *executorStub) Interrupt(_ context.Context, req *executorv1.InterruptRequest) (*executorv1.Empty, error) {
	s.lastInterrupt = req
	return &executorv1.Empty{}, nil
}

func (s *executorStub) GetMetadata(_ context.Context, req *executorv1.WorkerRequest) (*executorv1.WorkerMetadata, error) {
	return nil, status.Errorf(codes.NotFound, "worker %s not found", req.Worker)
}

func (s *executorStub) ListWorkers(_ context.Context, req *executorv1.ListWorkersRequest) (*executorv1.ListWorkersResponse, error) {
	s.lastList = req
	return &executorv1.ListWorkersResponse{Workers: []executorv1.WorkerMetadata{
		{Worker: "c1/w1", Status: "Idle", OplogIndex: 3},
		{Worker: "c1/w2", Status: "Failed", OplogIndex: 7},
	}}, nil
}

func (s *executorStub) ReadOplog(_ context.Context, _ *executorv1.ReadOplogRequest) (*executorv1.ReadOplogResponse, error) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &executorv1.ReadOplogResponse{Entries: []executorv1.OplogEntry{
		{Index: 1, Kind: "Create", Timestamp: base, Body: `{"componentVersion":0}`},
		{Index: 2, Kind: "ExportedFunctionInvoked", Timestamp: base.Add(1500 * time.Millisecond), Deleted: true, Body: `{"function":"increment","idempotencyKey":"k1"}`},
		{Index: 3, Kind: "Jump", Timestamp: base.Add(2 * time.Second)},
	}}, nil
}

func (s *executorStub) RegisterComponent(_ context.Context, req *executorv1.RegisterComponentRequest) (*executorv1.Component, error) {
	s.lastRegister = req
	return &executorv1.Component{ComponentID: "c1", Name: req.Name, Version: 0, Type: req.Type, Size: int64(len(req.Binary))}, nil
}

func (s *executorStub) AssignShards(_ context.Context, req *executorv1.ShardsRequest) (*executorv1.ShardsResponse, error) {
	s.lastShards = req
	return &executorv1.ShardsResponse{NumberOfShards: req.NumberOfShards, ShardIDs: req.ShardIDs}, nil
}

func startExecutorStub(t *testing.T, svc executorv1.WorkerExecutorServer) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	executorv1.RegisterWorkerExecutorServer(gs, svc)
	go func() { _ = gs.Serve(l) }()
	t.Cleanup(gs.Stop)
	t.Setenv(GRPCAddrEnv, l.Addr().String())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestOplogDump(t *testing.T) {
	startExecutorStub(t, &executorStub{})
	out, err := execute(t, "oplog", "dump", "c1/w1", "--bodies")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "oplog_dump", []byte(out))
}

func TestWorkerInvoke(t *testing.T) {
	stub := &executorStub{}
	startExecutorStub(t, stub)

	out, err := execute(t, "worker", "invoke", "c1/w1", "increment", "--input", `{"by":2}`, "--idempotency-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":3}\n", out)
	require.NotNil(t, stub.lastInvoke)
	assert.Equal(t, "increment", stub.lastInvoke.Function)
	assert.Equal(t, `{"by":2}`, stub.lastInvoke.Input)

	out, err = execute(t, "worker", "invoke", "c1/w1", "increment", "--await=false")
	require.NoError(t, err)
	assert.Equal(t, "idempotency key: generated\n", out)

	_, err = execute(t, "worker", "invoke", "c1/w1", "increment", "--input", "{nope")
	require.ErrorContains(t, err, "valid JSON")
}

func TestWorkerCommands(t *testing.T) {
	stub := &executorStub{}
	startExecutorStub(t, stub)

	out, err := execute(t, "worker", "create", "c1/w1", "--component-version", "2", "--env", "A=1")
	require.NoError(t, err)
	assert.Equal(t, "created c1/w1 (component version 2)\n", out)

	_, err = execute(t, "worker", "create", "c1/w1", "--env", "broken")
	require.ErrorContains(t, err, "KEY=VALUE")

	_, err = execute(t, "worker", "interrupt", "c1/w1", "--kind", "suspend")
	require.NoError(t, err)
	assert.Equal(t, "suspend", stub.lastInterrupt.Kind)

	_, err = execute(t, "worker", "status", "c1/missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	out, err = execute(t, "worker", "list", "--filter", `status == "Failed"`)
	require.NoError(t, err)
	assert.Equal(t, "c1/w1\tIdle\t3\nc1/w2\tFailed\t7\n", out)
	assert.Equal(t, `status == "Failed"`, stub.lastList.Filter)

	_, err = execute(t, "worker", "jump", "c1/w1")
	require.ErrorContains(t, err, "--target")

	out, err = execute(t, "worker", "retry-policy", "c1/w1", "--max-attempts", "5", "--min-delay", "50ms")
	require.NoError(t, err)
	assert.Equal(t, "status: ok\n", out)
	assert.Equal(t, &executorv1.SetRetryPolicyRequest{
		Worker:          "c1/w1",
		MaxAttempts:     5,
		MinDelay:        "50ms",
		MaxDelay:        "1s",
		Multiplier:      3,
		MaxJitterFactor: 0.15,
	}, stub.lastRetry)
}

func TestTimeoutFromEnv(t *testing.T) {
	t.Setenv(TimeoutEnv, "")
	assert.Equal(t, defaultTimeout, timeoutFromEnv())
	t.Setenv(TimeoutEnv, "250ms")
	assert.Equal(t, 250*time.Millisecond, timeoutFromEnv())
	t.Setenv(TimeoutEnv, "0")
	assert.Equal(t, time.Duration(0), timeoutFromEnv())
	t.Setenv(TimeoutEnv, "soon")
	assert.Equal(t, defaultTimeout, timeoutFromEnv())
}

func TestComponentRegister(t *testing.T) {
	stub := &executorStub{}
	startExecutorStub(t, stub)
	path := filepath.Join(t.TempDir(), "prog.wasm")
	require.NoError(t, os.WriteFile(path, []byte("\x00asm"), 0o644))

	out, err := execute(t, "component", "register", path, "--name", "counter")
	require.NoError(t, err)
	assert.Equal(t, "c1 version 0 (durable, 4 bytes)\n", out)
	assert.Equal(t, "counter", stub.lastRegister.Name)
}

func TestShardsAssign(t *testing.T) {
	stub := &executorStub{}
	startExecutorStub(t, stub)

	_, err := execute(t, "shards", "assign", "--number-of-shards", "4", "--ids", "1, 3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, stub.lastShards.ShardIDs)
	assert.Equal(t, 4, stub.lastShards.NumberOfShards)

	_, err = execute(t, "shards", "assign", "--ids", "x")
	require.ErrorContains(t, err, "invalid shard id")
}
