package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every variable read by FromEnv.
const EnvPrefix = "GOLEM_EXECUTOR_"

// FromEnv overlays GOLEM_EXECUTOR_* environment variables onto cfg.
// Unparseable values are ignored.
func FromEnv(cfg *Config) {
	str("DATA_DIR", &cfg.DataDir)
	str("FSYNC", &cfg.Fsync)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("HTTP_ADDR", &cfg.HTTPAddr)

	integer("NUMBER_OF_SHARDS", &cfg.Shards.NumberOfShards)
	if v := getenv("OWNED_SHARDS"); v != "" {
		cfg.Shards.Owned = nil
		for _, p := range strings.Split(v, ",") {
			if n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
				cfg.Shards.Owned = append(cfg.Shards.Owned, n)
			}
		}
	}
	str("SHARD_ASSIGNMENT_FILE", &cfg.Shards.AssignmentFile)

	if v := getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Retry.MaxAttempts = uint32(n)
		}
	}
	duration("RETRY_MIN_DELAY", &cfg.Retry.MinDelay)
	duration("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)
	float("RETRY_MULTIPLIER", &cfg.Retry.Multiplier)
	float("RETRY_MAX_JITTER_FACTOR", &cfg.Retry.MaxJitterFactor)

	integer("MAX_ACTIVE_WORKERS", &cfg.ActiveWorkers.MaxActive)
	duration("WORKER_IDLE_TIMEOUT", &cfg.ActiveWorkers.IdleTimeout)
	duration("WORKER_SWEEP_INTERVAL", &cfg.ActiveWorkers.SweepInterval)

	str("OPLOG_BACKEND", &cfg.Oplog.Backend)
	duration("OPLOG_ARCHIVE_AFTER", &cfg.Oplog.ArchiveAfter)
	integer("OPLOG_ARCHIVE_BATCH", &cfg.Oplog.ArchiveBatch)

	str("BLOB_BACKEND", &cfg.Blob.Backend)
	str("BLOB_PATH", &cfg.Blob.Path)

	if v := getenv("DEFAULT_LINEAR_MEMORY_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Memory.DefaultLinearMemoryBytes = n
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(EnvPrefix + key)) }

func str(key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func integer(key string, dst *int) {
	if n, err := strconv.Atoi(getenv(key)); err == nil {
		*dst = n
	}
}

func float(key string, dst *float64) {
	if f, err := strconv.ParseFloat(getenv(key), 64); err == nil {
		*dst = f
	}
}

func duration(key string, dst *Duration) {
	if d, err := time.ParseDuration(getenv(key)); err == nil {
		*dst = Duration(d)
	}
}
