package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDeployCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-cancel <transaction-id>",
		Short: "Request cooperative cancellation of an in-progress deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.RequestCancel(args[0]); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "deploy-cancel: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			return nil
		},
	}
}
