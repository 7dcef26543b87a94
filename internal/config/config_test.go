package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func clearMigEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix) {
			os.Unsetenv(key)
		}
	}
}

func setEnv(t *testing.T, kvs map[string]string) {
	t.Helper()
	for k, v := range kvs {
		t.Setenv(k, v)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearMigEnv(t)
	setEnv(t, map[string]string{
		"MIG_IMAP__HOST":         "imap.mail.example.com",
		"MIG_IMAP__USERNAME":     "user@example.com",
		"MIG_IMAP__APP_PASSWORD": "app-pass",
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IMAP.Port != 993 {
		t.Fatalf("expected default port 993, got %d", cfg.IMAP.Port)
	}
	if !cfg.IMAP.SSL {
		t.Fatal("expected default SSL true")
	}
	if cfg.Concurrency.GmailWorkers != 4 {
		t.Fatalf("expected default gmail_workers 4, got %d", cfg.Concurrency.GmailWorkers)
	}
	if cfg.Gmail.Mode != "import" {
		t.Fatalf("expected default mode import, got %q", cfg.Gmail.Mode)
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	clearMigEnv(t)
	setEnv(t, map[string]string{
		"MIG_IMAP__HOST":               "imap.mail.example.com",
		"MIG_IMAP__PORT":               "143",
		"MIG_IMAP__USERNAME":           "user@example.com",
		"MIG_IMAP__APP_PASSWORD":       "app-pass",
		"MIG_IMAP__SSL":                "false",
		"MIG_CONCURRENCY__GMAIL_WORKERS": "8",
		"MIG_GMAIL__MODE":              "insert",
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IMAP.Port != 143 {
		t.Fatalf("expected port 143, got %d", cfg.IMAP.Port)
	}
	if cfg.IMAP.SSL {
		t.Fatal("expected SSL overridden to false")
	}
	if cfg.Concurrency.GmailWorkers != 8 {
		t.Fatalf("expected gmail_workers 8, got %d", cfg.Concurrency.GmailWorkers)
	}
	if cfg.Gmail.Mode != "insert" {
		t.Fatalf("expected mode insert, got %q", cfg.Gmail.Mode)
	}
}

func TestParseStringListJSONArray(t *testing.T) {
	got := parseStringList(`["INBOX", "Sent Messages"]`)
	want := []string{"INBOX", "Sent Messages"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStringListCommaSeparated(t *testing.T) {
	got := parseStringList(" a@example.com, b@example.com ,,c@example.com")
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStringListEmpty(t *testing.T) {
	if got := parseStringList(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestValidateRequiresIMAPFields(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate(true)
	if err == nil {
		t.Fatal("expected error for missing IMAP host")
	}
	cfgErr, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Key != "MIG_IMAP__HOST" {
		t.Fatalf("expected error about IMAP host, got %v", cfgErr)
	}
}

func TestValidateDryRunSkipsGmailRequirement(t *testing.T) {
	cfg := defaults()
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.Username = "user"
	cfg.IMAP.AppPassword = "pass"

	if err := cfg.Validate(true); err != nil {
		t.Fatalf("expected dry-run validate to pass without Gmail creds: %v", err)
	}
}

func TestValidateNonDryRunRequiresGmailFields(t *testing.T) {
	cfg := defaults()
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.Username = "user"
	cfg.IMAP.AppPassword = "pass"

	err := cfg.Validate(false)
	if err == nil {
		t.Fatal("expected error for missing Gmail credentials")
	}
	cfgErr, ok := err.(*ConfigError)
	if !ok || cfgErr.Key != "MIG_GMAIL__TARGET_USER_EMAIL" {
		t.Fatalf("expected error about target user email, got %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := defaults()
	cfg.IMAP.Host, cfg.IMAP.Username, cfg.IMAP.AppPassword = "h", "u", "p"
	cfg.Gmail.Mode = "bogus"

	if err := cfg.Validate(true); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestStoragePathDefaultsJoinRootDir(t *testing.T) {
	cfg := defaults()
	cfg.Storage.RootDir = "/tmp/migtest"

	if got, want := cfg.EvidenceDir(), filepath.Join("/tmp/migtest", "evidence"); got != want {
		t.Fatalf("EvidenceDir() = %q, want %q", got, want)
	}
	if got, want := cfg.ReportsDir(), filepath.Join("/tmp/migtest", "reports"); got != want {
		t.Fatalf("ReportsDir() = %q, want %q", got, want)
	}
	if got, want := cfg.SQLitePath(), filepath.Join("/tmp/migtest", "ledger.db"); got != want {
		t.Fatalf("SQLitePath() = %q, want %q", got, want)
	}
}

func TestStoragePathOverridesWin(t *testing.T) {
	cfg := defaults()
	cfg.Storage.RootDir = "/tmp/migtest"
	cfg.Storage.EvidenceDirOverride = "/custom/evidence"

	if got := cfg.EvidenceDir(); got != "/custom/evidence" {
		t.Fatalf("EvidenceDir() = %q, want override", got)
	}
}

func TestExpandPathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	if got := expandPath("~/foo"); got != filepath.Join(home, "foo") {
		t.Fatalf("expandPath(~/foo) = %q, want %q", got, filepath.Join(home, "foo"))
	}
	if got := expandPath("~"); got != home {
		t.Fatalf("expandPath(~) = %q, want %q", got, home)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("expandPath(/abs/path) = %q, want unchanged", got)
	}
}
