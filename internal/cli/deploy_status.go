package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDeployStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-status <transaction-id>",
		Short: "Print the current status of a deployment transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dep, err := a.store.Get(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "deploy-status: transaction %s not found\n", args[0])
				os.Exit(1)
			}
			printDeploymentSummary(cmd.OutOrStdout(), dep, a.store.LogPath(dep.ID))
			return nil
		},
	}
}
