package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/golemcloud/golem-sub031/internal/cmd/client"
	serverrun "github.com/golemcloud/golem-sub031/internal/cmd/server"
	cfgpkg "github.com/golemcloud/golem-sub031/internal/config"
	logpkg "github.com/golemcloud/golem-sub031/pkg/log"
)

func main() {
	// CLI output honours GOLEM_EXECUTOR_LOG_LEVEL; the server rebuilds its
	// logger from the loaded config.
	level := os.Getenv(cfgpkg.EnvPrefix + "LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "golem-executor",
		Short: "Durable worker executor",
		Long:  "golem-executor hosts durable workers on the shards assigned to it. This CLI runs the server and talks to a running one.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the executor (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			remote, _ := cmd.Flags().GetString("remote")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg, RemoteAddr: remote}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv(cfgpkg.EnvPrefix+"CONFIG"), "Config file (YAML or JSON)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("grpc", "", "gRPC listen address")
	serverStartCmd.Flags().String("http", "", "HTTP listen address")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json")
	serverStartCmd.Flags().String("remote", "", "gRPC address calls to foreign shards are forwarded to")
	serverCmd.AddCommand(serverStartCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cfgpkg.Write(cmd.OutOrStdout(), cfg)
		},
	}
	configCmd.Flags().AddFlagSet(serverStartCmd.Flags())
	serverCmd.AddCommand(configCmd)

	rootCmd.AddCommand(serverCmd)
	clientcmd.AddCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and then flags over
// the defaults.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	for flag, dst := range map[string]*string{
		"data-dir":   &cfg.DataDir,
		"grpc":       &cfg.GRPCAddr,
		"http":       &cfg.HTTPAddr,
		"fsync":      &cfg.Fsync,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	return cfg, cfg.Validate()
}
