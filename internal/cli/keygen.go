package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fedifaves/internal/secret"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secret key for FEDIFAVES_SECRET_KEY",
		Long: `Generate a fresh random key for encrypting credentials at rest.

Export the printed value as FEDIFAVES_SECRET_KEY before running serve.
Rotating the key logs the session out: tokens sealed under the old key
no longer decode and the store resets to the pre-authorization state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), secret.NewRandomKey())
			return nil
		},
	}
}
