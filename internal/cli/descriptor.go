package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newDescriptorCmd groups read-only platform registry inspection:
// list loaded descriptors, validate one against the schema, and probe
// its live health endpoint.
func newDescriptorCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "descriptor",
		Short: "Inspect the loaded platform descriptors",
	}
	root.AddCommand(newDescriptorListCmd(a), newDescriptorValidateCmd(a), newDescriptorHealthCmd(a))
	return root
}

func newDescriptorListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every loaded platform descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range a.registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s ecosystem=%-10s auth=%-14s rollback=%s\n", p.Name, p.Ecosystem, p.AuthScheme, p.RollbackCapability)
			}
			return nil
		},
	}
}

func newDescriptorValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <platform>",
		Short: "Validate a loaded descriptor against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.registry.ValidateDescriptor(args[0]); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "descriptor validate: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}
}

func newDescriptorHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health <platform>",
		Short: "Probe a platform's live health endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.registry.HealthCheck(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "descriptor health: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (latency=%s) %s\n", args[0], h.Status, h.Latency, h.Detail)
			if h.Status == "down" {
				os.Exit(1)
			}
			return nil
		},
	}
}
