package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailkeep/imap2gmail/internal/config"
	"github.com/mailkeep/imap2gmail/internal/sinkauth"
)

var (
	envFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imap2gmail",
	Short: "Migrate messages from an IMAP mailbox into Gmail",
	Long: `imap2gmail scans an IMAP mailbox, writes an immutable local copy of
every accepted message, and imports each one into a Gmail account with
folder-derived labels. Progress is tracked in a restartable SQLite
ledger, so an interrupted or re-run migration resumes from where it
left off instead of re-sending messages Gmail already has.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			level = slog.LevelInfo
		}
		if verbose {
			level = slog.LevelDebug
		}
		if cfg.Logging.JSONLogs {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		}
		return nil
	},
}

// Execute runs the root command with a background context.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context, enabling
// graceful shutdown on SIGINT/SIGTERM.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// IsConfigError reports whether err (as returned by ExecuteContext)
// indicates a missing or invalid configuration setting (including a
// Web-application OAuth client file), the condition the CLI surfaces as
// exit code 2.
func IsConfigError(err error) bool {
	var cfgErr *config.ConfigError
	var shapeErr *sinkauth.ClientSecretShapeError
	return errors.As(err, &cfgErr) || errors.As(err, &shapeErr)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file to load before reading MIG_ environment variables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
