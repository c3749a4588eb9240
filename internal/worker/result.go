package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// Result is the eventual outcome of one invocation, shared by every caller
// using the same idempotency key.
type Result struct {
	Key model.IdempotencyKey

	once sync.Once
	done chan struct{}
	resp json.RawMessage
	err  error
}

func newResult(key model.IdempotencyKey) *Result {
	return &Result{Key: key, done: make(chan struct{})}
}

func (r *Result) resolve(resp json.RawMessage, err error) {
	r.once.Do(func() {
		r.resp, r.err = resp, err
		close(r.done)
	})
}

// Done is closed once the outcome is known.
func (r *Result) Done() <-chan struct{} { return r.done }

func (r *Result) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Await blocks until the outcome is known or ctx is done. Cancelling ctx
// does not cancel the invocation.
func (r *Result) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-r.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invocation is a queued exported function call.
type invocation struct {
	function string
	request  json.RawMessage
	result   *Result
}
