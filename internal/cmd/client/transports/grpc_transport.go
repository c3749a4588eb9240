// Package transports holds the ways the CLI reaches an executor.
package transports

import (
	"context"
	"time"

	"google.golang.org/grpc"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
)

// GrpcTransport dials the executor for every command and closes the
// connection when the call returns.
type GrpcTransport struct {
	dial    func(ctx context.Context) (*grpc.ClientConn, error)
	timeout time.Duration
}

// NewGrpcTransport bounds calls without a deadline by timeout; zero means no
// bound. InvokeAndAwait runs as long as the invocation does, so its callers
// usually pass a generous one.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error), timeout time.Duration) *GrpcTransport {
	return &GrpcTransport{dial: dial, timeout: timeout}
}

func call[T any](ctx context.Context, t *GrpcTransport, fn func(context.Context, *executorv1.WorkerExecutorClient) (T, error)) (T, error) {
	var zero T
	if _, ok := ctx.Deadline(); !ok && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = conn.Close() }()
	return fn(ctx, executorv1.NewWorkerExecutorClient(conn))
}

func (t *GrpcTransport) CreateWorker(ctx context.Context, req *executorv1.CreateWorkerRequest) (*executorv1.CreateWorkerResponse, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.CreateWorkerResponse, error) {
		return c.CreateWorker(ctx, req)
	})
}

// Invoke enqueues the invocation, or waits for its result when req.Await is
// set.
func (t *GrpcTransport) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	wire := &executorv1.InvokeRequest{Worker: req.Worker, Function: req.Function, Input: req.Input, IdempotencyKey: req.IdempotencyKey}
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (InvokeResult, error) {
		if req.Await {
			resp, err := c.InvokeAndAwait(ctx, wire)
			if err != nil {
				return InvokeResult{}, err
			}
			return InvokeResult{IdempotencyKey: resp.IdempotencyKey, Result: resp.Result}, nil
		}
		resp, err := c.Invoke(ctx, wire)
		if err != nil {
			return InvokeResult{}, err
		}
		return InvokeResult{IdempotencyKey: resp.IdempotencyKey}, nil
	})
}

func (t *GrpcTransport) Interrupt(ctx context.Context, worker, kind string) error {
	_, err := call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.Empty, error) {
		return c.Interrupt(ctx, &executorv1.InterruptRequest{Worker: worker, Kind: kind})
	})
	return err
}

func (t *GrpcTransport) Resume(ctx context.Context, worker string) error {
	_, err := call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.Empty, error) {
		return c.Resume(ctx, &executorv1.WorkerRequest{Worker: worker})
	})
	return err
}

func (t *GrpcTransport) Jump(ctx context.Context, worker string, target uint64) error {
	_, err := call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.Empty, error) {
		return c.Jump(ctx, &executorv1.JumpRequest{Worker: worker, Target: target})
	})
	return err
}

func (t *GrpcTransport) SetRetryPolicy(ctx context.Context, req *executorv1.SetRetryPolicyRequest) error {
	_, err := call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.Empty, error) {
		return c.SetRetryPolicy(ctx, req)
	})
	return err
}

func (t *GrpcTransport) GetMetadata(ctx context.Context, worker string) (*executorv1.WorkerMetadata, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.WorkerMetadata, error) {
		return c.GetMetadata(ctx, &executorv1.WorkerRequest{Worker: worker})
	})
}

// ListWorkers passes filter, a CEL expression, through to the executor.
func (t *GrpcTransport) ListWorkers(ctx context.Context, filter string) ([]executorv1.WorkerMetadata, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) ([]executorv1.WorkerMetadata, error) {
		resp, err := c.ListWorkers(ctx, &executorv1.ListWorkersRequest{Filter: filter})
		if err != nil {
			return nil, err
		}
		return resp.Workers, nil
	})
}

func (t *GrpcTransport) ReadOplog(ctx context.Context, worker string, from uint64, count int) ([]executorv1.OplogEntry, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) ([]executorv1.OplogEntry, error) {
		resp, err := c.ReadOplog(ctx, &executorv1.ReadOplogRequest{Worker: worker, From: from, Count: count})
		if err != nil {
			return nil, err
		}
		return resp.Entries, nil
	})
}

func (t *GrpcTransport) RegisterComponent(ctx context.Context, req *executorv1.RegisterComponentRequest) (*executorv1.Component, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.Component, error) {
		return c.RegisterComponent(ctx, req)
	})
}

func (t *GrpcTransport) AssignShards(ctx context.Context, numberOfShards int, ids []int64) (*executorv1.ShardsResponse, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.ShardsResponse, error) {
		return c.AssignShards(ctx, &executorv1.ShardsRequest{NumberOfShards: numberOfShards, ShardIDs: ids})
	})
}

func (t *GrpcTransport) RevokeShards(ctx context.Context, ids []int64) (*executorv1.ShardsResponse, error) {
	return call(ctx, t, func(ctx context.Context, c *executorv1.WorkerExecutorClient) (*executorv1.ShardsResponse, error) {
		return c.RevokeShards(ctx, &executorv1.ShardsRequest{ShardIDs: ids})
	})
}
