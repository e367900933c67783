package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubilitics/shipctl/internal/transaction"
)

// rollback-verify re-checks each target's live registry metadata and
// exits 0 only if every target that was marked completed or skipped in
// the rollback record still reflects that state against the registry.
func newRollbackVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-verify <rollback-id>",
		Short: "Verify a rollback against live registry metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.store.GetRollback(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "rollback-verify: rollback %s not found\n", args[0])
				os.Exit(1)
			}

			allGood := true
			for _, name := range r.Targets {
				st := r.Platforms[name]
				if st.State != transaction.PlatformCompleted && st.State != transaction.PlatformSkipped {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s not rolled back (%s)\n", name, st.State)
					allGood = false
					continue
				}
				if st.State == transaction.PlatformSkipped {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s skipped (rollback unsupported)\n", name)
					continue
				}
				adp, err := a.adapters.Get(name, a.registry)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s could not resolve adapter: %v\n", name, err)
					allGood = false
					continue
				}
				vr := adp.Verify(cmd.Context(), r.Package, r.Version)
				if vr.Outcome.Ok() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s still reports %s live; rollback not confirmed\n", name, r.Version)
					allGood = false
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s confirmed rolled back\n", name)
			}

			if !allGood {
				os.Exit(1)
			}
			return nil
		},
	}
}
