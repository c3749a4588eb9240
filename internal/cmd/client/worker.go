package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	transports "github.com/golemcloud/golem-sub031/internal/cmd/client/transports"
	"github.com/golemcloud/golem-sub031/internal/model"
)

// NewWorkerCommand constructs the `worker` command group and subcommands.
// Workers are addressed as <component-id>/<worker-name>.
func NewWorkerCommand() *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker operations",
		Long: `Worker operations.

Workers are addressed as <component-id>/<worker-name>. Invoking an unknown
worker creates it with the latest version of its component.`,
	}
	workerCmd.AddCommand(
		newWorkerCreateCommand(),
		newWorkerInvokeCommand(),
		newWorkerStatusCommand(),
		newWorkerListCommand(),
		newWorkerInterruptCommand(),
		newWorkerResumeCommand(),
		newWorkerJumpCommand(),
		newWorkerRetryPolicyCommand(),
	)
	return workerCmd
}

// newWorkerCreateCommand constructs the `worker create` subcommand.
func newWorkerCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <worker>",
		Short: "Create a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetInt64("component-version")
			workerArgs, _ := cmd.Flags().GetStringArray("arg")
			envs, _ := cmd.Flags().GetStringArray("env")
			req := &executorv1.CreateWorkerRequest{Worker: args[0], Args: workerArgs}
			if version >= 0 {
				v := uint64(version)
				req.ComponentVersion = &v
			}
			for _, kv := range envs {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q; expected KEY=VALUE", kv)
				}
				req.Env = append(req.Env, executorv1.EnvVar{Key: k, Value: v})
			}
			resp, err := getTransport().CreateWorker(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (component version %d)\n", resp.Worker, resp.ComponentVersion)
			return nil
		},
	}
	cmd.Flags().Int64("component-version", -1, "Component version (default latest)")
	cmd.Flags().StringArray("arg", nil, "Worker argument (repeatable)")
	cmd.Flags().StringArray("env", nil, "Environment variable KEY=VALUE (repeatable)")
	return cmd
}

// newWorkerInvokeCommand constructs the `worker invoke` subcommand.
func newWorkerInvokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <worker> <function>",
		Short: "Invoke an exported function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			key, _ := cmd.Flags().GetString("idempotency-key")
			await, _ := cmd.Flags().GetBool("await")
			if input != "" && !json.Valid([]byte(input)) {
				return fmt.Errorf("--input must be valid JSON")
			}
			res, err := getTransport().Invoke(cmd.Context(), transports.InvokeRequest{
				Worker:         args[0],
				Function:       args[1],
				Input:          input,
				IdempotencyKey: key,
				Await:          await,
			})
			if err != nil {
				return err
			}
			if !await {
				fmt.Fprintf(cmd.OutOrStdout(), "idempotency key: %s\n", res.IdempotencyKey)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Result)
			return nil
		},
	}
	cmd.Flags().String("input", "", "JSON input")
	cmd.Flags().String("idempotency-key", "", "Idempotency key (generated when empty)")
	cmd.Flags().Bool("await", true, "Wait for the result")
	return cmd
}

// newWorkerStatusCommand constructs the `worker status` subcommand.
func newWorkerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status <worker>",
		Aliases: []string{"get"},
		Short:   "Show worker metadata",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := getTransport().GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), md)
		},
	}
}

// newWorkerListCommand constructs the `worker list` subcommand.
func newWorkerListCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers of the executor's shards",
		Long: `List workers of the executor's shards, one per line: worker, status and
oplog index.

--filter takes a CEL expression over component, name, status, phase,
component_type, version, oplog_index, retry_count, active, args, env and
updated_ms.

Examples:
  golem-executor worker list
  golem-executor worker list --filter 'status == "Failed" || retry_count > 2'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mds, err := getTransport().ListWorkers(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, md := range mds {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", md.Worker, md.Status, md.OplogIndex)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "CEL expression over worker metadata")
	return cmd
}

// newWorkerInterruptCommand constructs the `worker interrupt` subcommand.
func newWorkerInterruptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interrupt <worker>",
		Short: "Interrupt a running worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			if err := getTransport().Interrupt(cmd.Context(), args[0], kind); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status: ok")
			return nil
		},
	}
	cmd.Flags().String("kind", "interrupt", "Interrupt kind: interrupt|restart|suspend")
	return cmd
}

// newWorkerResumeCommand constructs the `worker resume` subcommand.
func newWorkerResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <worker>",
		Short: "Resume an interrupted or suspended worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getTransport().Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status: ok")
			return nil
		},
	}
}

// newWorkerJumpCommand constructs the `worker jump` subcommand.
func newWorkerJumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jump <worker>",
		Short: "Rewind a worker to an oplog index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetUint64("target")
			if target == 0 {
				return fmt.Errorf("--target is required")
			}
			if err := getTransport().Jump(cmd.Context(), args[0], target); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status: ok")
			return nil
		},
	}
	cmd.Flags().Uint64("target", 0, "Oplog index to keep; later entries are skipped")
	return cmd
}

// newWorkerRetryPolicyCommand constructs the `worker retry-policy` subcommand.
func newWorkerRetryPolicyCommand() *cobra.Command {
	def := model.DefaultRetryConfig()
	cmd := &cobra.Command{
		Use:   "retry-policy <worker>",
		Short: "Override the retry policy of a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req := &executorv1.SetRetryPolicyRequest{Worker: args[0]}
			req.MaxAttempts, _ = flags.GetUint32("max-attempts")
			minDelay, _ := flags.GetDuration("min-delay")
			maxDelay, _ := flags.GetDuration("max-delay")
			req.MinDelay, req.MaxDelay = minDelay.String(), maxDelay.String()
			req.Multiplier, _ = flags.GetFloat64("multiplier")
			req.MaxJitterFactor, _ = flags.GetFloat64("max-jitter")
			if err := getTransport().SetRetryPolicy(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status: ok")
			return nil
		},
	}
	cmd.Flags().Uint32("max-attempts", def.MaxAttempts, "Retries before the worker fails")
	cmd.Flags().Duration("min-delay", def.MinDelay, "Delay before the first retry")
	cmd.Flags().Duration("max-delay", def.MaxDelay, "Upper bound of the retry delay")
	cmd.Flags().Float64("multiplier", def.Multiplier, "Growth factor of the delay")
	cmd.Flags().Float64("max-jitter", def.MaxJitterFactor, "Random jitter as a fraction of the delay")
	return cmd
}
