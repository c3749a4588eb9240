// Package host runs worker programs. A Host instantiates a program once per
// worker instance; the Instance then executes exported functions one at a
// time. Failures are returned as trap.Failure values so they classify
// without inspecting host-specific error types.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/rpc"
	"github.com/golemcloud/golem-sub031/internal/workerconfig"
)

// ErrUnknownProgram is returned when no program is registered for a component.
var ErrUnknownProgram = errors.New("unknown program")

// Spec describes the instance to create.
type Spec struct {
	Worker           model.WorkerID
	ComponentVersion model.ComponentVersion
	ComponentType    model.ComponentType
	// Binary is the program image; hosts that resolve programs by component
	// id ignore it.
	Binary []byte
	Config workerconfig.WorkerConfig
	Exec   *durability.Execution
	Proxy  rpc.Proxy
}

type Host interface {
	Instantiate(ctx context.Context, spec Spec) (Instance, error)
}

// Instance is an instantiated program. It is used by one goroutine.
type Instance interface {
	// Invoke runs an exported function. Output the program writes to its
	// error stream goes to stderr.
	Invoke(ctx context.Context, function string, request json.RawMessage, stderr io.Writer) (json.RawMessage, error)
	Close(ctx context.Context) error
}
