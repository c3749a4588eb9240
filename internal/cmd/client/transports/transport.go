package transports

import (
	"context"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
)

// InvokeRequest describes one invocation of an exported function.
type InvokeRequest struct {
	Worker         string
	Function       string
	Input          string
	IdempotencyKey string
	// Await blocks until the invocation completed.
	Await bool
}

// InvokeResult is the outcome of an invocation. Result is empty unless the
// request awaited it.
type InvokeResult struct {
	IdempotencyKey string
	Result         string
}

// ExecutorTransport abstracts the transport used by the CLI.
type ExecutorTransport interface {
	CreateWorker(ctx context.Context, req *executorv1.CreateWorkerRequest) (*executorv1.CreateWorkerResponse, error)
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error)
	Interrupt(ctx context.Context, worker, kind string) error
	Resume(ctx context.Context, worker string) error
	Jump(ctx context.Context, worker string, target uint64) error
	SetRetryPolicy(ctx context.Context, req *executorv1.SetRetryPolicyRequest) error
	GetMetadata(ctx context.Context, worker string) (*executorv1.WorkerMetadata, error)
	ListWorkers(ctx context.Context, filter string) ([]executorv1.WorkerMetadata, error)
	ReadOplog(ctx context.Context, worker string, from uint64, count int) ([]executorv1.OplogEntry, error)
	RegisterComponent(ctx context.Context, req *executorv1.RegisterComponentRequest) (*executorv1.Component, error)
	AssignShards(ctx context.Context, numberOfShards int, ids []int64) (*executorv1.ShardsResponse, error)
	RevokeShards(ctx context.Context, ids []int64) (*executorv1.ShardsResponse, error)
}
