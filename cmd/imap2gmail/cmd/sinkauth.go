package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailkeep/imap2gmail/internal/sinkauth"
)

var sinkAuthCmd = &cobra.Command{
	Use:   "sink-auth",
	Short: "Authorize the Gmail sink account and persist its token",
	Long: `sink-auth runs the Gmail OAuth loopback flow if no valid token is
persisted yet, then prints the authorized account's email address. Run
this once before migrate so the token file exists and migrate itself
never has to open a browser.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		provider, err := sinkauth.NewProvider(sinkauth.Config{
			ClientSecretsFile: cfg.Gmail.CredentialsFile,
			TokenFile:         cfg.Gmail.TokenFile,
			Logger:            logger,
		})
		if err != nil {
			return fmt.Errorf("set up Gmail credentials: %w", err)
		}

		if err := provider.EnsureAuthorized(ctx); err != nil {
			return fmt.Errorf("authorize Gmail account: %w", err)
		}

		identity, err := provider.Identity(ctx)
		if err != nil {
			return fmt.Errorf("fetch authorized identity: %w", err)
		}

		fmt.Printf("Authorized as %s. Token saved to %s.\n", identity, cfg.Gmail.TokenFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sinkAuthCmd)
}
