package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailkeep/imap2gmail/internal/evidence"
	"github.com/mailkeep/imap2gmail/internal/imapclient"
	"github.com/mailkeep/imap2gmail/internal/ledger"
	"github.com/mailkeep/imap2gmail/internal/mailheader"
	"github.com/mailkeep/imap2gmail/internal/orchestrator"
	"github.com/mailkeep/imap2gmail/internal/progress"
	"github.com/mailkeep/imap2gmail/internal/sink"
	"github.com/mailkeep/imap2gmail/internal/sinkauth"
)

var (
	migrateDryRun bool
	migrateReset  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Scan the configured IMAP mailbox and import accepted messages into Gmail",
	Long: `migrate discovers mailboxes on the configured IMAP account, writes an
immutable local copy of every message that survives the address filter
and duplicate check, and (unless --dry-run) imports each one into the
configured Gmail account with folder-derived labels.

Progress is tracked per (folder, uid, uidvalidity) in a SQLite ledger
under the storage root, so re-running migrate after an interruption
resumes rather than re-scanning from the beginning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(migrateDryRun); err != nil {
			return err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		ctx := cmd.Context()

		evidenceStore := evidence.New(cfg.EvidenceDir())

		ledgerDB, err := ledger.Open(cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledgerDB.Close()
		if err := ledgerDB.InitSchema(); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}

		pool, err := imapclient.NewPool(ctx, imapclient.Config{
			Host:        cfg.IMAP.Host,
			Port:        cfg.IMAP.Port,
			SSL:         cfg.IMAP.SSL,
			Username:    cfg.IMAP.Username,
			AppPassword: cfg.IMAP.AppPassword,
			Logger:      logger,
		}, cfg.IMAP.Connections)
		if err != nil {
			return fmt.Errorf("connect to IMAP server: %w", err)
		}

		var sinkClient sink.SinkClient
		if !migrateDryRun {
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
			sinkClient = sink.NewGmailClient(
				provider,
				cfg.Gmail.TargetUserEmail,
				internalDateSource(cfg.Gmail.InternalDateSource),
				sink.WithGmailLogger(logger),
			)
			defer sinkClient.Close()
		}

		reporter := progress.NewReporter(logger)

		params := orchestrator.Params{
			FolderInclude:        cfg.IMAP.FolderInclude(),
			FolderExclude:        cfg.IMAP.FolderExclude(),
			SearchQuery:          cfg.IMAP.SearchQuery,
			BatchSize:            cfg.IMAP.BatchSize,
			ImapFetchConcurrency: cfg.Concurrency.ImapFetchConcurrency,
			GmailWorkers:         cfg.Concurrency.GmailWorkers,
			QueueMaxsize:         cfg.Concurrency.QueueMaxsize,
			DryRun:               migrateDryRun,
			Reset:                migrateReset,
			FingerprintBodyBytes: cfg.Storage.FingerprintBodyBytes,
			AddressFilter: mailheader.NewAddressFilter(
				cfg.Filter.TargetAddresses(),
				cfg.Filter.IncludeSender,
				cfg.Filter.IncludeRecipients,
			),
			LabelPrefix: cfg.Gmail.LabelPrefix,
			Mode:        sinkMode(cfg.Gmail.Mode),
			Retry:       orchestrator.DefaultRetryPolicy(),
		}

		orch := orchestrator.New(pool, ledgerDB, evidenceStore, sinkClient, reporter, logger, params)
		summary, runErr := orch.Run(ctx)
		if runErr != nil {
			return fmt.Errorf("migration run: %w", runErr)
		}

		for status, n := range summary.Counts {
			logger.Info("final status count", "status", status, "count", n)
		}
		return nil
	},
}

func sinkMode(mode string) sink.Mode {
	if mode == string(sink.ModeInsert) {
		return sink.ModeInsert
	}
	return sink.ModeImport
}

func internalDateSource(source string) sink.InternalDateSource {
	if source == string(sink.InternalDateSourceReceivedTime) {
		return sink.InternalDateSourceReceivedTime
	}
	return sink.InternalDateSourceDateHeader
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "scan and write evidence without importing into Gmail")
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "clear skipped/failed ledger rows before scanning, so they are retried")
	rootCmd.AddCommand(migrateCmd)
}
