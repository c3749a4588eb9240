// Package workerconfig assembles the immutable environment a worker
// instance is started with.
package workerconfig

import (
	"strconv"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
)

// Reserved environment keys. They are always set by the executor and can
// not be overridden by callers.
const (
	EnvWorkerName       = "GOLEM_WORKER_NAME"
	EnvComponentID      = "GOLEM_COMPONENT_ID"
	EnvComponentVersion = "GOLEM_COMPONENT_VERSION"
)

// WorkerConfig is built once per worker (re)start and read by the program
// host.
type WorkerConfig struct {
	Args                  []string
	Env                   []model.EnvVar
	DeletedRegions        oplog.DeletedRegions
	TotalLinearMemorySize uint64
}

// Lookup returns the value of key in the environment.
func (c WorkerConfig) Lookup(key string) (string, bool) {
	for _, kv := range c.Env {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// EnvMap returns the environment as a map.
func (c WorkerConfig) EnvMap() map[string]string {
	m := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		m[kv.Key] = kv.Value
	}
	return m
}

func isReserved(key string) bool {
	return key == EnvWorkerName || key == EnvComponentID || key == EnvComponentVersion
}

// Build strips caller-supplied reserved keys from env and appends the
// reserved keys for worker. The result depends only on its inputs, so a
// resumed worker sees exactly the environment its first run saw.
func Build(worker model.WorkerID, version model.ComponentVersion, args []string, env []model.EnvVar, deleted oplog.DeletedRegions, memorySize uint64) WorkerConfig {
	out := make([]model.EnvVar, 0, len(env)+3)
	for _, kv := range env {
		if !isReserved(kv.Key) {
			out = append(out, kv)
		}
	}
	out = append(out,
		model.EnvVar{Key: EnvWorkerName, Value: worker.WorkerName},
		model.EnvVar{Key: EnvComponentID, Value: worker.ComponentID.String()},
		model.EnvVar{Key: EnvComponentVersion, Value: strconv.FormatUint(uint64(version), 10)},
	)
	return WorkerConfig{
		Args:                  append([]string(nil), args...),
		Env:                   out,
		DeletedRegions:        oplog.NewDeletedRegions(deleted.Regions()...),
		TotalLinearMemorySize: memorySize,
	}
}
