package client

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
)

// NewOplogCommand constructs the `oplog` command group.
func NewOplogCommand() *cobra.Command {
	oplogCmd := &cobra.Command{Use: "oplog", Short: "Oplog inspection"}
	oplogCmd.AddCommand(newOplogDumpCommand())
	return oplogCmd
}

// newOplogDumpCommand constructs the `oplog dump` subcommand.
func newOplogDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <worker>",
		Short: "Print a worker's oplog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			bodies, _ := cmd.Flags().GetBool("bodies")
			asJSON, _ := cmd.Flags().GetBool("json")
			entries, err := getTransport().ReadOplog(cmd.Context(), args[0], from, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return writeOplog(cmd.OutOrStdout(), entries, bodies)
		},
	}
	cmd.Flags().Uint64("from", 1, "First oplog index")
	cmd.Flags().Int("limit", 0, "Maximum number of entries (0 = all)")
	cmd.Flags().Bool("bodies", false, "Print entry bodies")
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	return cmd
}

// writeOplog prints one line per entry; skipped entries are marked.
func writeOplog(w io.Writer, entries []executorv1.OplogEntry, bodies bool) error {
	for _, e := range entries {
		mark := ""
		if e.Deleted {
			mark = " (deleted)"
		}
		if _, err := fmt.Fprintf(w, "%6d  %-28s %s%s\n", e.Index, e.Kind, e.Timestamp.UTC().Format(time.RFC3339Nano), mark); err != nil {
			return err
		}
		if bodies && e.Body != "" {
			if _, err := fmt.Fprintf(w, "        %s\n", e.Body); err != nil {
				return err
			}
		}
	}
	return nil
}
