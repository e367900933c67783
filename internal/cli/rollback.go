package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubilitics/shipctl/internal/rollback"
	"github.com/kubilitics/shipctl/internal/transaction"
)

func newRollbackCmd(a *app) *cobra.Command {
	var (
		targetsCSV string
		mode       string
		confirm    bool
	)
	cmd := &cobra.Command{
		Use:   "rollback <transaction-id>",
		Short: "Roll back the succeeded targets of a deployment transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "automated" && mode != "manual" {
				fmt.Fprintf(cmd.ErrOrStderr(), "rollback: --mode must be automated or manual (got %q)\n", mode)
				os.Exit(2)
			}
			opts := rollback.Options{
				Targets:         parseTargets(targetsCSV),
				Reason:          transaction.ReasonManualTrigger,
				ConfirmOverride: confirm,
				Mode:            mode,
			}
			r, err := a.rollback.Open(cmd.Context(), args[0], opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "rollback: %v\n", err)
				os.Exit(1)
			}
			printRollbackSummary(cmd.OutOrStdout(), r)
			if r.Status != transaction.StatusCompleted {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&targetsCSV, "targets", "", "comma-separated targets to roll back (defaults to all succeeded targets)")
	cmd.Flags().StringVar(&mode, "mode", "manual", "automated or manual")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm rollback methods that require explicit operator confirmation")
	return cmd
}
