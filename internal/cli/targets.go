package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubilitics/shipctl/internal/state"
)

// newTargetsCmd manages named target-platform groups, e.g. "shipctl
// targets set all-registries npm,pypi,cargo,dockerhub" lets a later
// "shipctl deploy foo --targets @all-registries" stand in for the list.
func newTargetsCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "targets",
		Short: "Manage named target-platform groups",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved target groups",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for name, members := range a.prefs.TargetGroups {
					marker := " "
					if name == a.prefs.ActiveTargetGroup {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, name, strings.Join(members, ","))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <name> <targets-csv>",
			Short: "Create or replace a target group",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a.prefs.SetTargetGroup(args[0], parseTargets(args[1]))
				return state.Save(a.prefs)
			},
		},
		&cobra.Command{
			Use:   "rm <name>",
			Short: "Remove a target group",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a.prefs.RemoveTargetGroup(args[0])
				return state.Save(a.prefs)
			},
		},
		&cobra.Command{
			Use:   "use <name>",
			Short: "Mark a target group as active (starred in `targets list`; deploy does not fall back to it)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a.prefs.SetActiveTargetGroup(args[0])
				return state.Save(a.prefs)
			},
		},
	)
	return root
}
