package status

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// Phase is the lifecycle phase of an in-memory worker instance.
type Phase uint8

const (
	Loading Phase = iota
	PhaseRunning
	PhaseSuspended
	Interrupting
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "Loading"
	case PhaseRunning:
		return "Running"
	case PhaseSuspended:
		return "Suspended"
	case Interrupting:
		return "Interrupting"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// ErrInvalidTransition is returned for transitions the state machine does
// not allow.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// ExecutionStatus is the state of one in-memory worker instance. Values are
// immutable; transitions return a new value. It is owned by the worker's
// supervisor and never persisted.
type ExecutionStatus struct {
	Phase         Phase
	LastKnown     Record
	ComponentType model.ComponentType
	Timestamp     time.Time
	// Interrupt and signal are set only while Interrupting.
	Interrupt trap.InterruptKind
	signal    *signal
}

// signal is a one-shot broadcast.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) fire() { s.once.Do(func() { close(s.ch) }) }

// NewLoading returns the initial status of an instance.
func NewLoading(last Record, ct model.ComponentType) ExecutionStatus {
	return ExecutionStatus{Phase: Loading, LastKnown: last, ComponentType: ct, Timestamp: time.Now()}
}

func (s ExecutionStatus) with(p Phase) ExecutionStatus {
	s.Phase = p
	s.Timestamp = time.Now()
	s.signal = nil
	return s
}

func (s ExecutionStatus) invalid(to Phase) error {
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.Phase, to)
}

// ToRunning is taken once the program is instantiated and its oplog
// replayed, or when a suspended instance receives work.
func (s ExecutionStatus) ToRunning() (ExecutionStatus, error) {
	switch s.Phase {
	case Loading, PhaseSuspended, PhaseRunning:
		return s.with(PhaseRunning), nil
	default:
		return s, s.invalid(PhaseRunning)
	}
}

// ToSuspended parks a running instance with no invocation in flight.
func (s ExecutionStatus) ToSuspended() (ExecutionStatus, error) {
	switch s.Phase {
	case PhaseRunning, PhaseSuspended:
		return s.with(PhaseSuspended), nil
	default:
		return s, s.invalid(PhaseSuspended)
	}
}

// ToInterrupting starts interrupting a loading or running instance. The
// returned status carries a signal that Done exposes and Complete fires.
func (s ExecutionStatus) ToInterrupting(kind trap.InterruptKind) (ExecutionStatus, error) {
	switch s.Phase {
	case Loading, PhaseRunning, PhaseSuspended:
	default:
		return s, s.invalid(Interrupting)
	}
	next := s.with(Interrupting)
	next.Interrupt = kind
	next.signal = newSignal()
	return next, nil
}

// ToLoading is taken when the instance is evicted and later reactivated.
// It is allowed from every phase.
func (s ExecutionStatus) ToLoading(last Record) ExecutionStatus {
	next := s.with(Loading)
	next.LastKnown = last
	return next
}

// WithLastKnown replaces the checkpoint snapshot.
func (s ExecutionStatus) WithLastKnown(last Record) ExecutionStatus {
	s.LastKnown = last
	return s
}

// Done is closed once the interruption completed. It is nil unless the
// phase is Interrupting.
func (s ExecutionStatus) Done() <-chan struct{} {
	if s.signal == nil {
		return nil
	}
	return s.signal.ch
}

// Complete fires the interruption signal. Safe to call more than once.
func (s ExecutionStatus) Complete() {
	if s.signal != nil {
		s.signal.fire()
	}
}
