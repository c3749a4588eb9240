package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
)

// NewComponentCommand constructs the `component` command group.
func NewComponentCommand() *cobra.Command {
	componentCmd := &cobra.Command{Use: "component", Short: "Component operations"}
	componentCmd.AddCommand(newComponentRegisterCommand())
	return componentCmd
}

// newComponentRegisterCommand constructs the `component register` subcommand.
func newComponentRegisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <file>",
		Short: "Upload a program binary as a new component or version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			id, _ := cmd.Flags().GetString("id")
			ct, _ := cmd.Flags().GetString("type")
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := getTransport().RegisterComponent(cmd.Context(), &executorv1.RegisterComponentRequest{
				ComponentID: id,
				Name:        name,
				Type:        ct,
				Binary:      bin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %d (%s, %d bytes)\n", c.ComponentID, c.Version, c.Type, c.Size)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Component name")
	cmd.Flags().String("id", "", "Existing component id; adds a new version")
	cmd.Flags().String("type", "durable", "Component type: durable|ephemeral")
	return cmd
}
