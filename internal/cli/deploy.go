package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/shipctl/internal/notifier"
	"github.com/kubilitics/shipctl/internal/pipeline"
	"github.com/kubilitics/shipctl/internal/state"
	"github.com/kubilitics/shipctl/internal/transaction"
)

func newDeployCmd(a *app) *cobra.Command {
	var (
		version      string
		targetsCSV   string
		pipelineName string
		concurrency  int
		failFast     bool
		autoRollback bool
		strictHealth bool
		workTree     string
	)
	cmd := &cobra.Command{
		Use:   "deploy <package>",
		Short: "Deploy a package to one or more target platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := a.expandTargets(targetsCSV)
			if len(targets) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "deploy: at least one target is required (--targets, or a named group with @group)")
				os.Exit(2)
			}
			pl, err := parsePipeline(pipelineName)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "deploy: %v\n", err)
				os.Exit(2)
			}

			if !cmd.Flags().Changed("auto-rollback") {
				autoRollback = a.anyTargetRollbackCapable(targets)
			}

			req := pipeline.Request{
				Package:            args[0],
				Version:            version,
				Pipeline:           pl,
				Targets:            targets,
				Concurrency:        concurrency,
				FailFast:           failFast,
				AutoRollback:       autoRollback,
				StrictHealth:       strictHealth,
				AllowedLicenses:    toSet(a.cfg.AllowedLicenses),
				WorkTree:           workTree,
				CredentialResolver: a.credentialResolver(),
			}

			dep, runErr := a.pipeline.Run(cmd.Context(), req)
			if dep == nil {
				return fmt.Errorf("deploy: %w", runErr)
			}

			a.emitDeploymentNotification(cmd.Context(), dep)
			a.prefs.MarkDeployed(dep.Package)
			_ = state.Save(a.prefs)
			printDeploymentSummary(cmd.OutOrStdout(), dep, a.store.LogPath(dep.ID))

			switch dep.Status {
			case transaction.StatusCompleted:
				return nil
			default:
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version to deploy (defaults to the value read from the work tree)")
	cmd.Flags().StringVar(&targetsCSV, "targets", "", "comma-separated target platform names (required)")
	cmd.Flags().StringVar(&pipelineName, "pipeline", "standard", "topology: standard, parallel, or staged")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent targets for the parallel/staged topologies (default 5)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort remaining targets on first platform failure")
	cmd.Flags().BoolVar(&autoRollback, "auto-rollback", false, "automatically roll back succeeded targets if the deployment fails (default: on, when any target supports rollback)")
	cmd.Flags().BoolVar(&strictHealth, "strict-health", false, "fail validation if a target's registry health check does not pass")
	cmd.Flags().StringVar(&workTree, "work-tree", ".", "directory containing the package artifacts to validate and publish")
	return cmd
}

func parsePipeline(name string) (transaction.Pipeline, error) {
	switch name {
	case "", "standard":
		return transaction.PipelineStandard, nil
	case "parallel":
		return transaction.PipelineParallel, nil
	case "staged":
		return transaction.PipelineStaged, nil
	default:
		return "", fmt.Errorf("unknown pipeline %q (want standard, parallel, or staged)", name)
	}
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

func (a *app) emitDeploymentNotification(ctx context.Context, dep *transaction.Deployment) {
	if a.notify == nil {
		return
	}
	if err := a.notify.Notify(ctx, notifier.FromDeployment(dep)); err != nil {
		a.logger.Warn("notification failed", zap.String("transaction_id", dep.ID), zap.Error(err))
	}
}
