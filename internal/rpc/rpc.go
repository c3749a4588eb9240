// Package rpc is the worker-to-worker invocation surface. Calls made by a
// running worker go through Invoke so they are recorded in the caller's
// oplog and never re-issued on replay.
package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/pkg/id"
)

// ErrNoProxy is returned when a worker calls another worker without a proxy
// configured.
var ErrNoProxy = errors.New("no invocation proxy configured")

// Proxy invokes a function on another worker and waits for its result.
// The idempotency key makes re-issued calls safe.
type Proxy interface {
	Invoke(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error)
}

// FunctionGenerateIdempotencyKey is the durable function name used to
// derive the key of an outgoing call.
const FunctionGenerateIdempotencyKey = "golem::rpc::generate-idempotency-key"

// OperationKey is the durable function name of a call to function on target.
func OperationKey(target model.WorkerID, function string) string {
	return "golem::rpc::" + target.String() + "::" + function
}

// Invoke calls function on target as a durable operation of exec. The
// idempotency key is generated durably as well, so a retry after a crash
// that happened mid-call reuses the key of the first attempt.
func Invoke(ctx context.Context, exec *durability.Execution, p Proxy, target model.WorkerID, function string, args json.RawMessage) (json.RawMessage, error) {
	if p == nil {
		return nil, ErrNoProxy
	}
	key, err := durability.Call(ctx, exec, FunctionGenerateIdempotencyKey, oplog.ReadLocal, struct{}{}, func(context.Context, struct{}) (model.IdempotencyKey, error) {
		return model.IdempotencyKey(id.New().String()), nil
	})
	if err != nil {
		return nil, err
	}
	return durability.CallBytes(ctx, exec, OperationKey(target, function), oplog.WriteRemote, args, func(ctx context.Context, req []byte) ([]byte, error) {
		return p.Invoke(ctx, target, function, req, key)
	})
}
