package executorv1

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EnvVar is one environment entry of a worker.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type CreateWorkerRequest struct {
	Worker string `json:"worker"`
	// ComponentVersion pins a version; nil selects the latest.
	ComponentVersion *uint64  `json:"componentVersion,omitempty"`
	Args             []string `json:"args,omitempty"`
	Env              []EnvVar `json:"env,omitempty"`
}

type CreateWorkerResponse struct {
	Worker           string `json:"worker"`
	ComponentVersion uint64 `json:"componentVersion"`
}

// InvokeRequest carries the function input as JSON text so that numbers
// survive the wire unchanged.
type InvokeRequest struct {
	Worker         string `json:"worker"`
	Function       string `json:"function"`
	Input          string `json:"input,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type InvokeResponse struct {
	IdempotencyKey string `json:"idempotencyKey"`
}

type InvokeAndAwaitResponse struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Result         string `json:"result"`
}

type InterruptRequest struct {
	Worker string `json:"worker"`
	// Kind is interrupt, restart or suspend.
	Kind string `json:"kind"`
}

type WorkerRequest struct {
	Worker string `json:"worker"`
}

type JumpRequest struct {
	Worker string `json:"worker"`
	Target uint64 `json:"target"`
}

// SetRetryPolicyRequest overrides a worker's retry policy. Delays are
// duration strings such as "250ms"; empty ones keep the executor defaults.
type SetRetryPolicyRequest struct {
	Worker          string  `json:"worker"`
	MaxAttempts     uint32  `json:"maxAttempts"`
	MinDelay        string  `json:"minDelay,omitempty"`
	MaxDelay        string  `json:"maxDelay,omitempty"`
	Multiplier      float64 `json:"multiplier,omitempty"`
	MaxJitterFactor float64 `json:"maxJitterFactor"`
}

type Empty struct{}

type Region struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

type WorkerMetadata struct {
	Worker            string    `json:"worker"`
	Status            string    `json:"status"`
	ComponentVersion  uint64    `json:"componentVersion"`
	ComponentType     string    `json:"componentType"`
	Args              []string  `json:"args,omitempty"`
	Env               []EnvVar  `json:"env,omitempty"`
	OplogIndex        uint64    `json:"oplogIndex"`
	DeletedRegions    []Region  `json:"deletedRegions,omitempty"`
	RetryCount        uint64    `json:"retryCount,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	PendingInvocation string    `json:"pendingInvocation,omitempty"`
	Active            bool      `json:"active"`
	Phase             string    `json:"phase,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ListWorkersRequest selects workers with an optional CEL filter.
type ListWorkersRequest struct {
	Filter string `json:"filter,omitempty"`
}

type ListWorkersResponse struct {
	Workers []WorkerMetadata `json:"workers"`
}

type ReadOplogRequest struct {
	Worker string `json:"worker"`
	From   uint64 `json:"from,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// OplogEntry is one oplog record. Body is the entry's JSON encoding.
type OplogEntry struct {
	Index     uint64    `json:"index"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Deleted   bool      `json:"deleted,omitempty"`
	Body      string    `json:"body,omitempty"`
}

type ReadOplogResponse struct {
	Entries []OplogEntry `json:"entries"`
}

type RegisterComponentRequest struct {
	// ComponentID adds a new version when set; otherwise a component is
	// created.
	ComponentID string `json:"componentId,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Binary      []byte `json:"binary,omitempty"`
}

type Component struct {
	ComponentID string `json:"componentId"`
	Name        string `json:"name"`
	Version     uint64 `json:"version"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
}

type ShardsRequest struct {
	NumberOfShards int     `json:"numberOfShards,omitempty"`
	ShardIDs       []int64 `json:"shardIds"`
}

type ShardsResponse struct {
	NumberOfShards int     `json:"numberOfShards"`
	ShardIDs       []int64 `json:"shardIds"`
}

// ToStruct encodes a message for the wire.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FromStruct decodes a wire message into v.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
