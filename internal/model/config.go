package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvVar is one entry of a worker's environment. Order is preserved.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RetryConfig bounds retries of a failing worker. A MaxJitterFactor of zero
// disables jitter.
type RetryConfig struct {
	MaxAttempts     uint32        `json:"maxAttempts" yaml:"maxAttempts" validate:"gte=0"`
	MinDelay        time.Duration `json:"minDelay" yaml:"minDelay" validate:"gt=0"`
	MaxDelay        time.Duration `json:"maxDelay" yaml:"maxDelay" validate:"gtefield=MinDelay"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
	MaxJitterFactor float64       `json:"maxJitterFactor" yaml:"maxJitterFactor" validate:"gte=0,lt=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints.
func (c RetryConfig) Validate() error { return validate.Struct(c) }

// DefaultRetryConfig is used when neither config nor the oplog overrides it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		MinDelay:        100 * time.Millisecond,
		MaxDelay:        time.Second,
		Multiplier:      3,
		MaxJitterFactor: 0.15,
	}
}
