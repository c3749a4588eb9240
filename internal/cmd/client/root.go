package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the executor client.
// It registers the worker, oplog, component and shard command groups.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "golem-executor",
		Short: "Worker executor client commands",
	}
	AddCommands(root)
	return root
}

// AddCommands registers the client command groups on parent.
func AddCommands(parent *cobra.Command) {
	parent.AddCommand(
		NewWorkerCommand(),
		NewOplogCommand(),
		NewComponentCommand(),
		NewShardsCommand(),
	)
}
