package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/model"
)

// GRPCProxy forwards calls to another executor over gRPC.
type GRPCProxy struct {
	conn   *grpc.ClientConn
	client *executorv1.WorkerExecutorClient
}

// DialGRPC connects to the executor at addr. Extra dial options are appended
// to the insecure default.
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCProxy, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial executor %s: %w", addr, err)
	}
	return NewGRPCProxy(conn), nil
}

// NewGRPCProxy uses an existing connection; Close then closes it.
func NewGRPCProxy(conn *grpc.ClientConn) *GRPCProxy {
	return &GRPCProxy{conn: conn, client: executorv1.NewWorkerExecutorClient(conn)}
}

func (p *GRPCProxy) Invoke(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error) {
	resp, err := p.client.InvokeAndAwait(ctx, &executorv1.InvokeRequest{
		Worker:         target.String(),
		Function:       function,
		Input:          string(args),
		IdempotencyKey: string(key),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s on %s: %w", function, target, err)
	}
	if resp.Result == "" {
		return nil, nil
	}
	return json.RawMessage(resp.Result), nil
}

func (p *GRPCProxy) Close() error { return p.conn.Close() }

var _ Proxy = (*GRPCProxy)(nil)
