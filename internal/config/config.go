package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir       string        `json:"dataDir" yaml:"dataDir"`
	Fsync         string        `json:"fsync" yaml:"fsync" validate:"oneof=always interval never"`
	GRPCAddr      string        `json:"grpcAddr" yaml:"grpcAddr" validate:"required"`
	HTTPAddr      string        `json:"httpAddr" yaml:"httpAddr"`
	Shards        Shards        `json:"shards" yaml:"shards"`
	Retry         Retry         `json:"retry" yaml:"retry"`
	ActiveWorkers ActiveWorkers `json:"activeWorkers" yaml:"activeWorkers"`
	Oplog         Oplog         `json:"oplog" yaml:"oplog"`
	Blob          Blob          `json:"blob" yaml:"blob"`
	Memory        Memory        `json:"memory" yaml:"memory"`
	Log           Log           `json:"log" yaml:"log"`
}

// Shards is the initial shard assignment. When AssignmentFile is set it
// replaces NumberOfShards/Owned and is watched for changes.
type Shards struct {
	NumberOfShards int     `json:"numberOfShards" yaml:"numberOfShards" validate:"gte=1"`
	Owned          []int64 `json:"owned" yaml:"owned" validate:"dive,gte=0"`
	AssignmentFile string  `json:"assignmentFile" yaml:"assignmentFile"`
}

// Retry is the default retry policy of workers.
type Retry struct {
	MaxAttempts     uint32   `json:"maxAttempts" yaml:"maxAttempts"`
	MinDelay        Duration `json:"minDelay" yaml:"minDelay" validate:"gte=0"`
	MaxDelay        Duration `json:"maxDelay" yaml:"maxDelay" validate:"gtefield=MinDelay"`
	Multiplier      float64  `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
	MaxJitterFactor float64  `json:"maxJitterFactor" yaml:"maxJitterFactor" validate:"gte=0,lt=1"`
}

// RetryConfig converts to the model type.
func (r Retry) RetryConfig() model.RetryConfig {
	return model.RetryConfig{
		MaxAttempts:     r.MaxAttempts,
		MinDelay:        time.Duration(r.MinDelay),
		MaxDelay:        time.Duration(r.MaxDelay),
		Multiplier:      r.Multiplier,
		MaxJitterFactor: r.MaxJitterFactor,
	}
}

// ActiveWorkers bounds the loaded workers.
type ActiveWorkers struct {
	MaxActive     int      `json:"maxActive" yaml:"maxActive" validate:"gte=0"`
	IdleTimeout   Duration `json:"idleTimeout" yaml:"idleTimeout" validate:"gte=0"`
	SweepInterval Duration `json:"sweepInterval" yaml:"sweepInterval" validate:"gte=0"`
}

// Oplog selects the oplog backend and archival.
type Oplog struct {
	Backend string `json:"backend" yaml:"backend" validate:"oneof=pebble memory"`
	// ArchiveAfter is the entry age after which entries move to blob
	// storage; zero disables archival.
	ArchiveAfter    Duration `json:"archiveAfter" yaml:"archiveAfter" validate:"gte=0"`
	ArchiveBatch    int      `json:"archiveBatch" yaml:"archiveBatch" validate:"gte=0"`
	ArchiveInterval Duration `json:"archiveInterval" yaml:"archiveInterval" validate:"gte=0"`
	KeepLatest      uint64   `json:"keepLatest" yaml:"keepLatest"`
}

// Blob selects the blob store. Path is relative to DataDir unless absolute.
type Blob struct {
	Backend string `json:"backend" yaml:"backend" validate:"oneof=sqlite memory"`
	Path    string `json:"path" yaml:"path" validate:"required_if=Backend sqlite"`
}

type Memory struct {
	DefaultLinearMemoryBytes uint64 `json:"defaultLinearMemoryBytes" yaml:"defaultLinearMemoryBytes" validate:"gt=0"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error fatal"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// Default returns built-in defaults.
func Default() Config {
	retry := model.DefaultRetryConfig()
	return Config{
		Fsync:    "always",
		GRPCAddr: ":9000",
		HTTPAddr: ":8082",
		Shards:   Shards{NumberOfShards: 1, Owned: []int64{0}},
		Retry: Retry{
			MaxAttempts:     retry.MaxAttempts,
			MinDelay:        Duration(retry.MinDelay),
			MaxDelay:        Duration(retry.MaxDelay),
			Multiplier:      retry.Multiplier,
			MaxJitterFactor: retry.MaxJitterFactor,
		},
		ActiveWorkers: ActiveWorkers{
			MaxActive:     1024,
			IdleTimeout:   Duration(10 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Oplog: Oplog{
			Backend:         "pebble",
			ArchiveAfter:    Duration(24 * time.Hour),
			ArchiveBatch:    1024,
			ArchiveInterval: Duration(time.Minute),
			KeepLatest:      1,
		},
		Blob:   Blob{Backend: "sqlite", Path: "blobs.db"},
		Memory: Memory{DefaultLinearMemoryBytes: 512 << 20},
		Log:    Log{Level: "info", Format: "text"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Shards.AssignmentFile == "" {
		for _, s := range c.Shards.Owned {
			if s >= int64(c.Shards.NumberOfShards) {
				return fmt.Errorf("invalid config: owned shard %d out of range [0, %d)", s, c.Shards.NumberOfShards)
			}
		}
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// Duration is a time.Duration written as "1m30s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
