// Package model holds the identifiers shared by the executor packages.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ComponentID identifies a deployed component (a program).
type ComponentID struct {
	uuid.UUID
}

// NewComponentID returns a random component id.
func NewComponentID() ComponentID { return ComponentID{UUID: uuid.New()} }

// ParseComponentID parses the canonical uuid form.
func ParseComponentID(s string) (ComponentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ComponentID{}, fmt.Errorf("invalid component id %q: %w", s, err)
	}
	return ComponentID{UUID: u}, nil
}

// ComponentVersion is a monotonically increasing component revision.
type ComponentVersion uint64

// ComponentType distinguishes durable components from ephemeral ones whose
// workers never replay earlier invocations.
type ComponentType uint8

const (
	Durable ComponentType = iota
	Ephemeral
)

func (t ComponentType) String() string {
	if t == Ephemeral {
		return "ephemeral"
	}
	return "durable"
}

// ParseComponentType accepts "durable" and "ephemeral"; empty means durable.
func ParseComponentType(s string) (ComponentType, error) {
	switch strings.ToLower(s) {
	case "", "durable":
		return Durable, nil
	case "ephemeral":
		return Ephemeral, nil
	default:
		return Durable, fmt.Errorf("unknown component type %q", s)
	}
}

// WorkerID is the immutable identity of a worker: its component and a name
// unique within that component.
type WorkerID struct {
	ComponentID ComponentID `json:"componentId"`
	WorkerName  string      `json:"workerName"`
}

// String renders "{component}/{name}".
func (w WorkerID) String() string {
	return w.ComponentID.String() + "/" + w.WorkerName
}

var ErrInvalidWorkerID = errors.New("invalid worker id")

// ParseWorkerID parses the String form.
func ParseWorkerID(s string) (WorkerID, error) {
	comp, name, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return WorkerID{}, fmt.Errorf("%w: %q", ErrInvalidWorkerID, s)
	}
	cid, err := ParseComponentID(comp)
	if err != nil {
		return WorkerID{}, fmt.Errorf("%w: %v", ErrInvalidWorkerID, err)
	}
	return WorkerID{ComponentID: cid, WorkerName: name}, nil
}

// Validate rejects empty names and names containing the separator.
func (w WorkerID) Validate() error {
	if w.WorkerName == "" {
		return fmt.Errorf("%w: empty worker name", ErrInvalidWorkerID)
	}
	if strings.ContainsAny(w.WorkerName, "/\x00") {
		return fmt.Errorf("%w: worker name %q contains a reserved character", ErrInvalidWorkerID, w.WorkerName)
	}
	return nil
}

// IdempotencyKey deduplicates invocations of the same worker.
type IdempotencyKey string
