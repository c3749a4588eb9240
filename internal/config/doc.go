// Package config loads the worker executor configuration. Default() is the
// baseline; Load reads a JSON or YAML file over it and FromEnv overlays
// GOLEM_EXECUTOR_* variables. Validate checks the result.
//
// Example:
//
//	cfg, err := config.Load("/etc/golem/executor.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
