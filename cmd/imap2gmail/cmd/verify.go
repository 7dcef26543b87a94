package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailkeep/imap2gmail/internal/evidence"
	"github.com/mailkeep/imap2gmail/internal/ledger"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every downloaded/imported message's evidence file against the ledger",
	Long: `verify walks every ledger row whose status is downloaded or imported,
re-hashes the corresponding .eml file on disk, and reports any mismatch
against the sha256 recorded when that evidence was first written.

Exit status is 1 if any mismatch (or missing file) is found, so verify
can be used as a CI or cron health check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledgerDB, err := ledger.Open(cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledgerDB.Close()

		cursor, err := ledgerDB.IterMessagesAtOrAfter()
		if err != nil {
			return fmt.Errorf("iterate evidence rows: %w", err)
		}
		defer cursor.Close()

		checked := 0
		mismatches := 0
		for cursor.Next() {
			msg := cursor.Message()
			checked++

			ok, err := evidence.VerifyFile(msg.EmlPath, msg.EmlSha256)
			if err != nil {
				mismatches++
				fmt.Printf("ERROR    %s %d (uidvalidity %d): %v\n", msg.Folder, msg.UID, msg.UIDValidity, err)
				continue
			}
			if !ok {
				mismatches++
				fmt.Printf("MISMATCH %s %d (uidvalidity %d): %s\n", msg.Folder, msg.UID, msg.UIDValidity, msg.EmlPath)
			}
		}
		if err := cursor.Err(); err != nil {
			return fmt.Errorf("iterate evidence rows: %w", err)
		}

		counts, err := ledgerDB.CountsByStatus()
		if err != nil {
			return fmt.Errorf("count ledger statuses: %w", err)
		}

		fmt.Printf("\nMessages checked:     %d\n", checked)
		fmt.Printf("Evidence mismatches:  %d\n", mismatches)
		for status, n := range counts {
			fmt.Printf("  %-18s %d\n", status, n)
		}

		if mismatches > 0 {
			return fmt.Errorf("verify: %d evidence mismatch(es) found", mismatches)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
