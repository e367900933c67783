package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubilitics/shipctl/internal/pipeline"
	"github.com/kubilitics/shipctl/internal/transaction"
)

// deploy-retry re-runs the failed targets of a prior transaction as a
// fresh deployment transaction against the same package and version;
// it never mutates the original record (invariant 1).
func newDeployRetryCmd(a *app) *cobra.Command {
	var targetsCSV string
	cmd := &cobra.Command{
		Use:   "deploy-retry <transaction-id>",
		Short: "Retry the failed targets of a prior deployment as a new transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prior, err := a.store.Get(args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "deploy-retry: transaction %s not found\n", args[0])
				os.Exit(2)
			}

			targets := parseTargets(targetsCSV)
			if len(targets) == 0 {
				for _, name := range prior.Targets {
					if prior.Platforms[name].State == transaction.PlatformFailed {
						targets = append(targets, name)
					}
				}
			}
			if len(targets) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "deploy-retry: no failed targets to retry and none specified with --targets")
				os.Exit(2)
			}

			req := pipeline.Request{
				Package:            prior.Package,
				Version:            prior.Version,
				Pipeline:           prior.Pipeline,
				Targets:            targets,
				FailFast:           prior.FailFast,
				AutoRollback:       prior.AutoRollback,
				AllowedLicenses:    toSet(a.cfg.AllowedLicenses),
				WorkTree:           ".",
				CredentialResolver: a.credentialResolver(),
			}

			dep, runErr := a.pipeline.Run(cmd.Context(), req)
			if dep == nil {
				return fmt.Errorf("deploy-retry: %w", runErr)
			}
			a.emitDeploymentNotification(cmd.Context(), dep)
			printDeploymentSummary(cmd.OutOrStdout(), dep, a.store.LogPath(dep.ID))

			if dep.Status != transaction.StatusCompleted {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&targetsCSV, "targets", "", "comma-separated targets to retry (defaults to the prior transaction's failed targets)")
	return cmd
}
