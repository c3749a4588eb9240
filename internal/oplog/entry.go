package oplog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// Kind tags an oplog entry.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindExportedFunctionInvoked
	KindExportedFunctionCompleted
	KindImportedFunctionInvoked
	KindSuspend
	KindError
	KindInterrupted
	KindExited
	KindJump
	KindNoOp
	KindChangeRetryPolicy
)

var kindNames = map[Kind]string{
	KindCreate:                    "Create",
	KindExportedFunctionInvoked:   "ExportedFunctionInvoked",
	KindExportedFunctionCompleted: "ExportedFunctionCompleted",
	KindImportedFunctionInvoked:   "ImportedFunctionInvoked",
	KindSuspend:                   "Suspend",
	KindError:                     "Error",
	KindInterrupted:               "Interrupted",
	KindExited:                    "Exited",
	KindJump:                      "Jump",
	KindNoOp:                      "NoOp",
	KindChangeRetryPolicy:         "ChangeRetryPolicy",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsHint reports whether entries of this kind are bookkeeping that the
// replay cursor steps over.
func (k Kind) IsHint() bool {
	switch k {
	case KindSuspend, KindError, KindInterrupted, KindExited, KindJump, KindNoOp, KindChangeRetryPolicy:
		return true
	default:
		return false
	}
}

// FunctionType classifies a durable operation by where its effect lands.
type FunctionType uint8

const (
	ReadLocal FunctionType = iota
	WriteLocal
	ReadRemote
	WriteRemote
)

var functionTypeNames = [...]string{"read-local", "write-local", "read-remote", "write-remote"}

func (t FunctionType) String() string {
	if int(t) < len(functionTypeNames) {
		return functionTypeNames[t]
	}
	return fmt.Sprintf("FunctionType(%d)", uint8(t))
}

// IsRemote reports whether the effect crosses a process boundary.
func (t FunctionType) IsRemote() bool { return t == ReadRemote || t == WriteRemote }

// PayloadVersion distinguishes how a durability record's payloads were
// produced: V1 payloads are opaque bytes from a caller-supplied codec, V2
// payloads are self-describing JSON values.
type PayloadVersion uint8

const (
	PayloadV1 PayloadVersion = 1
	PayloadV2 PayloadVersion = 2
)

// Entry is one oplog record. Only the fields of its Kind are set.
type Entry struct {
	Kind      Kind      `json:"-"`
	Timestamp time.Time `json:"-"`

	// Create
	ComponentVersion model.ComponentVersion `json:"componentVersion,omitempty"`
	ComponentType    model.ComponentType    `json:"componentType,omitempty"`
	Args             []string               `json:"args,omitempty"`
	Env              []model.EnvVar         `json:"env,omitempty"`

	// ExportedFunctionInvoked, ImportedFunctionInvoked
	FunctionName   string               `json:"function,omitempty"`
	Request        json.RawMessage      `json:"request,omitempty"`
	IdempotencyKey model.IdempotencyKey `json:"idempotencyKey,omitempty"`

	// ExportedFunctionCompleted, ImportedFunctionInvoked
	Response json.RawMessage `json:"response,omitempty"`

	// ImportedFunctionInvoked
	FunctionType   FunctionType   `json:"functionType,omitempty"`
	PayloadVersion PayloadVersion `json:"payloadVersion,omitempty"`

	// Error
	Error  *trap.WorkerError `json:"error,omitempty"`
	Stderr string            `json:"stderr,omitempty"`
	// Fatal marks errors that no retry can fix, such as a replay divergence.
	Fatal bool `json:"fatal,omitempty"`

	// Jump
	Jump *Region `json:"jump,omitempty"`

	// ChangeRetryPolicy
	RetryPolicy *model.RetryConfig `json:"retryPolicy,omitempty"`
}

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func Create(version model.ComponentVersion, ct model.ComponentType, args []string, env []model.EnvVar) Entry {
	return Entry{Kind: KindCreate, Timestamp: now(), ComponentVersion: version, ComponentType: ct, Args: args, Env: env}
}

func ExportedFunctionInvoked(function string, request json.RawMessage, key model.IdempotencyKey) Entry {
	return Entry{Kind: KindExportedFunctionInvoked, Timestamp: now(), FunctionName: function, Request: request, IdempotencyKey: key}
}

func ExportedFunctionCompleted(response json.RawMessage) Entry {
	return Entry{Kind: KindExportedFunctionCompleted, Timestamp: now(), Response: response}
}

func ImportedFunctionInvoked(function string, ft FunctionType, request, response json.RawMessage, v PayloadVersion) Entry {
	return Entry{Kind: KindImportedFunctionInvoked, Timestamp: now(), FunctionName: function, FunctionType: ft, Request: request, Response: response, PayloadVersion: v}
}

func Error(err trap.WorkerError, stderr string) Entry {
	return Entry{Kind: KindError, Timestamp: now(), Error: &err, Stderr: stderr}
}

func FatalError(err trap.WorkerError, stderr string) Entry {
	e := Error(err, stderr)
	e.Fatal = true
	return e
}

func Suspend() Entry     { return Entry{Kind: KindSuspend, Timestamp: now()} }
func Interrupted() Entry { return Entry{Kind: KindInterrupted, Timestamp: now()} }
func Exited() Entry      { return Entry{Kind: KindExited, Timestamp: now()} }
func NoOp() Entry        { return Entry{Kind: KindNoOp, Timestamp: now()} }

func Jump(r Region) Entry { return Entry{Kind: KindJump, Timestamp: now(), Jump: &r} }

func ChangeRetryPolicy(cfg model.RetryConfig) Entry {
	return Entry{Kind: KindChangeRetryPolicy, Timestamp: now(), RetryPolicy: &cfg}
}

// Record is an entry with its index.
type Record struct {
	Index Index
	Entry Entry
}
