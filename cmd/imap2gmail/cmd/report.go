package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailkeep/imap2gmail/internal/evidence"
	"github.com/mailkeep/imap2gmail/internal/ledger"
)

type reportDocument struct {
	CreatedAt          string         `json:"created_at"`
	SQLitePath         string         `json:"sqlite_path"`
	Counts             map[string]int `json:"counts"`
	EvidenceMismatches int            `json:"evidence_mismatches"`
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a JSON summary of ledger status counts and evidence health",
	Long: `report counts ledger rows by status, re-hashes every downloaded/imported
message's evidence file the same way verify does, and writes both as a
single JSON document to the configured reports directory, timestamped
by RFC3339 creation time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		ledgerDB, err := ledger.Open(cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer ledgerDB.Close()

		counts, err := ledgerDB.CountsByStatus()
		if err != nil {
			return fmt.Errorf("count ledger statuses: %w", err)
		}
		stringCounts := make(map[string]int, len(counts))
		for status, n := range counts {
			stringCounts[string(status)] = n
		}

		mismatches, err := countEvidenceMismatches(ledgerDB)
		if err != nil {
			return fmt.Errorf("check evidence: %w", err)
		}

		createdAt := time.Now().UTC().Format(time.RFC3339)
		doc := reportDocument{
			CreatedAt:          createdAt,
			SQLitePath:         ledgerDB.Path(),
			Counts:             stringCounts,
			EvidenceMismatches: mismatches,
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}

		outPath := filepath.Join(cfg.ReportsDir(), fmt.Sprintf("summary-%s.json", sanitizeTimestamp(createdAt)))
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		fmt.Printf("Report written to %s\n", outPath)
		return nil
	},
}

func countEvidenceMismatches(ledgerDB *ledger.Ledger) (int, error) {
	cursor, err := ledgerDB.IterMessagesAtOrAfter()
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	mismatches := 0
	for cursor.Next() {
		msg := cursor.Message()
		ok, err := evidence.VerifyFile(msg.EmlPath, msg.EmlSha256)
		if err != nil || !ok {
			mismatches++
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}
	return mismatches, nil
}

// sanitizeTimestamp replaces characters RFC3339 allows but filenames on
// common platforms don't (":") so the report path is portable.
func sanitizeTimestamp(ts string) string {
	return strings.ReplaceAll(ts, ":", "-")
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
