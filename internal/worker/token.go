package worker

import (
	"sync"
	"sync/atomic"

	"github.com/golemcloud/golem-sub031/internal/trap"
)

// token is the interrupt flag of one instance. The first Cancel wins.
type token struct {
	once sync.Once
	ch   chan struct{}
	kind atomic.Uint32
}

func newToken() *token { return &token{ch: make(chan struct{})} }

func (t *token) Cancel(k trap.InterruptKind) {
	t.once.Do(func() {
		t.kind.Store(uint32(k))
		close(t.ch)
	})
}

func (t *token) Done() <-chan struct{} { return t.ch }

// Err is polled at suspension points.
func (t *token) Err() error {
	select {
	case <-t.ch:
		return trap.Interrupted(trap.InterruptKind(t.kind.Load()))
	default:
		return nil
	}
}
