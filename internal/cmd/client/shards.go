package client

import (
	"github.com/spf13/cobra"
)

// NewShardsCommand constructs the `shards` command group.
func NewShardsCommand() *cobra.Command {
	shardsCmd := &cobra.Command{Use: "shards", Short: "Shard assignment"}

	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign shards to the executor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _ := cmd.Flags().GetInt("number-of-shards")
			raw, _ := cmd.Flags().GetString("ids")
			ids, err := parseShardIDs(raw)
			if err != nil {
				return err
			}
			resp, err := getTransport().AssignShards(cmd.Context(), n, ids)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	assignCmd.Flags().Int("number-of-shards", 0, "Total number of shards (default unchanged)")
	assignCmd.Flags().String("ids", "", "Comma separated shard ids")

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke shards from the executor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("ids")
			ids, err := parseShardIDs(raw)
			if err != nil {
				return err
			}
			resp, err := getTransport().RevokeShards(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	revokeCmd.Flags().String("ids", "", "Comma separated shard ids")

	shardsCmd.AddCommand(assignCmd, revokeCmd)
	return shardsCmd
}
