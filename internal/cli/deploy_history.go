package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDeployHistoryCmd(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "deploy-history",
		Short: "List the most recent deployment transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deployments, err := a.store.ListRecent(n)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "deploy-history: %v\n", err)
				os.Exit(1)
			}
			printHistory(cmd.OutOrStdout(), deployments)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "number of transactions to show")
	return cmd
}
