package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kubilitics/shipctl/internal/credential"
)

// newCredentialCmd exposes the keychain-backed credential store for
// operators whose config sets credential_backend to "keychain" instead
// of using environment variables.
func newCredentialCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "credential",
		Short: "Manage keychain-backed platform credentials",
	}
	root.AddCommand(newCredentialSetCmd(a))
	return root
}

func newCredentialSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <platform> <field> <value>",
		Short: "Store a credential field (token, username, or password) in the OS keychain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.CredentialBackend != "keychain" {
				fmt.Fprintln(cmd.ErrOrStderr(), "credential set: credential_backend is not \"keychain\"")
				os.Exit(2)
			}
			if err := credential.Store(args[0], args[1], args[2]); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "credential set: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s.%s\n", args[0], args[1])
			return nil
		},
	}
}
