package trap

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want TrapType
	}{
		{"interrupt", fmt.Errorf("host call: %w", Interrupted(Suspend)), InterruptTrap(Suspend)},
		{"exit", fmt.Errorf("wasi: %w", Exited(0)), ExitTrap()},
		{"stack overflow", StackOverflowed(errors.New("wasm error: stack overflow")), ErrorTrap(StackOverflowError())},
		{"oom", fmt.Errorf("grow: %w", OutOfMemoryFailure(nil)), ErrorTrap(OutOfMemoryError())},
		{"invalid request", InvalidRequestFailure("no such function: run"), ErrorTrap(InvalidRequestError("no such function: run"))},
		{"interrupt beats exit", errors.Join(Exited(1), Interrupted(Restart)), InterruptTrap(Restart)},
		{"exit beats oom", fmt.Errorf("%w", &Failure{Kind: FailureExited, Cause: OutOfMemoryFailure(nil)}), ExitTrap()},
		{"oom beats invalid request", errors.Join(InvalidRequestFailure("x"), OutOfMemoryFailure(nil)), ErrorTrap(OutOfMemoryError())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestClassifyUnknownKeepsCausalChain(t *testing.T) {
	err := fmt.Errorf("invoke counter.inc: %w", fmt.Errorf("host: %w", errors.New("connection refused")))
	tt := ClassifyError(err)
	require.Equal(t, TagError, tt.Tag)
	assert.Equal(t, Unknown, tt.Error.Kind)
	assert.Equal(t, "invoke counter.inc: host: connection refused", tt.Error.Message)
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := fmt.Errorf("a: %w", StackOverflowed(nil))
	first := ClassifyError(err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyError(err))
	}
}

func TestWorkerErrorToString(t *testing.T) {
	assert.Equal(t, "Stack overflow", StackOverflowError().ToString(""))
	assert.Equal(t, "Out of memory\n\npanic: oom", OutOfMemoryError().ToString("panic: oom"))
	assert.Equal(t, "boom\n\nlog line", UnknownError("boom").ToString("log line"))
	assert.Equal(t, "bad args", InvalidRequestError("bad args").String())
}

func TestWorkerErrorJSON(t *testing.T) {
	b, err := json.Marshal(InvalidRequestError("missing arg"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"invalid_request","message":"missing arg"}`, string(b))

	var back WorkerError
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, InvalidRequestError("missing arg"), back)
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"meltdown"}`), &back))
}

func TestInterruptKindStrings(t *testing.T) {
	assert.Equal(t, "Suspended", Suspend.String())
	assert.Equal(t, "Jumping back in time", Jump.String())
	for _, k := range []InterruptKind{Interrupt, Restart, Suspend, Jump} {
		parsed, err := ParseInterruptKind(k.Name())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestTrapAsError(t *testing.T) {
	var ie *InterruptedError
	assert.True(t, errors.As(InterruptTrap(Interrupt).AsError(""), &ie))
	assert.Nil(t, InterruptTrap(Restart).AsError(""))
	assert.Nil(t, InterruptTrap(Suspend).AsError(""))
	assert.ErrorIs(t, ExitTrap().AsError(""), ErrProcessExited)

	var pe *ProgramError
	require.True(t, errors.As(ErrorTrap(UnknownError("x")).AsError("stderr"), &pe))
	assert.Equal(t, "x\n\nstderr", pe.Error())
}
