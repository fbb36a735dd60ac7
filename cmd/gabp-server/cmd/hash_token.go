package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pardeike/gabp-server/internal/domain/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate an argon2id hash for a shared token",
	Long: `Generate an argon2id PHC-format hash of a token for use in config.

The output can be stored directly in server.token instead of the bare
token; internal/domain/auth.Verifier recognizes the PHC format and
compares against it without ever storing the plaintext.

Example:
  gabp-server hash-token "my-secret-token"

Security note: the token will appear in shell history. Consider clearing
history after use, or pipe it in via an environment variable:
  gabp-server hash-token "$GABP_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
