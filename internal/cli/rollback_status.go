package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRollbackStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-status <rollback-id>",
		Short: "Print the current status of a rollback transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.store.GetRollback(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "rollback-status: rollback %s not found\n", args[0])
				os.Exit(1)
			}
			printRollbackSummary(cmd.OutOrStdout(), r)
			return nil
		},
	}
}
