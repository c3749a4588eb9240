package rpc

import (
	"context"
	"encoding/json"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// ProxyFunc adapts a function to Proxy.
type ProxyFunc func(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error)

func (f ProxyFunc) Invoke(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error) {
	return f(ctx, target, function, args, key)
}

// Router sends calls for workers owned by this process to Local and
// everything else to Remote.
type Router struct {
	Local  Proxy
	Remote Proxy
	Owns   func(model.WorkerID) bool
}

func (r *Router) Invoke(ctx context.Context, target model.WorkerID, function string, args json.RawMessage, key model.IdempotencyKey) (json.RawMessage, error) {
	if r.Remote == nil || (r.Owns != nil && r.Owns(target)) {
		if r.Local == nil {
			return nil, ErrNoProxy
		}
		return r.Local.Invoke(ctx, target, function, args, key)
	}
	return r.Remote.Invoke(ctx, target, function, args, key)
}

var _ Proxy = (*Router)(nil)
