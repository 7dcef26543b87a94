// Package config loads the migration tool's settings from the process
// environment (prefix MIG_, nested keys joined by "__"), optionally
// merging in a dotenv file first. It is built on the same
// github.com/knadh/koanf/v2 ecosystem the email-server example uses
// for its own settings, switched from that example's file/YAML
// provider to the env provider this tool's schema needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	koanfenv "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/mailkeep/imap2gmail/internal/fileutil"
)

// ConfigError indicates a missing or invalid setting, surfaced to the
// CLI as exit code 2.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

const envPrefix = "MIG_"

// IMAPConfig is the source mailbox's connection and scan settings.
type IMAPConfig struct {
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	Username          string `koanf:"username"`
	AppPassword       string `koanf:"app_password"`
	SSL               bool   `koanf:"ssl"`
	FolderIncludeRaw  string `koanf:"folder_include"`
	FolderExcludeRaw  string `koanf:"folder_exclude"`
	Connections       int    `koanf:"connections"`
	BatchSize         int    `koanf:"batch_size"`
	SearchQuery       string `koanf:"search_query"`
}

// FolderInclude returns the configured include whitelist (empty means
// "include every discovered mailbox").
func (c IMAPConfig) FolderInclude() []string { return parseStringList(c.FolderIncludeRaw) }

// FolderExclude returns the configured exclude list.
func (c IMAPConfig) FolderExclude() []string { return parseStringList(c.FolderExcludeRaw) }

// GmailConfig is the sink account's identity, credentials, and label
// behavior.
type GmailConfig struct {
	TargetUserEmail    string `koanf:"target_user_email"`
	CredentialsFile    string `koanf:"credentials_file"`
	TokenFile          string `koanf:"token_file"`
	Mode               string `koanf:"mode"`
	InternalDateSource string `koanf:"internal_date_source"`
	LabelPrefix        string `koanf:"label_prefix"`
}

// StorageConfig controls where the ledger, evidence, and reports live.
type StorageConfig struct {
	RootDir               string `koanf:"root_dir"`
	EvidenceDirOverride   string `koanf:"evidence_dir_override"`
	ReportsDirOverride    string `koanf:"reports_dir_override"`
	SqlitePathOverride    string `koanf:"sqlite_path_override"`
	FingerprintBodyBytes  int    `koanf:"fingerprint_body_bytes"`
}

// ConcurrencyConfig bounds the three concurrency points spec'd for the
// orchestrator.
type ConcurrencyConfig struct {
	GmailWorkers         int `koanf:"gmail_workers"`
	ImapFetchConcurrency int `koanf:"imap_fetch_concurrency"`
	QueueMaxsize         int `koanf:"queue_maxsize"`
}

// FilterConfig is the address filter applied before evidence is
// written.
type FilterConfig struct {
	TargetAddressesRaw string `koanf:"target_addresses"`
	IncludeSender      bool   `koanf:"include_sender"`
	IncludeRecipients  bool   `koanf:"include_recipients"`
}

// TargetAddresses parses the raw JSON-array-or-comma-list form.
func (c FilterConfig) TargetAddresses() []string { return parseStringList(c.TargetAddressesRaw) }

// LoggingConfig controls the root slog.Logger.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	JSONLogs bool   `koanf:"json_logs"`
}

// Config is the fully-loaded, defaulted settings tree.
type Config struct {
	IMAP        IMAPConfig        `koanf:"imap"`
	Gmail       GmailConfig       `koanf:"gmail"`
	Storage     StorageConfig     `koanf:"storage"`
	Concurrency ConcurrencyConfig `koanf:"concurrency"`
	Filter      FilterConfig      `koanf:"filter"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// defaults returns a Config pre-populated with this tool's defaults,
// overridden by whatever the environment supplies.
func defaults() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Port:        993,
			SSL:         true,
			Connections: 4,
			BatchSize:   200,
			SearchQuery: "ALL",
		},
		Gmail: GmailConfig{
			Mode:               "import",
			InternalDateSource: "dateHeader",
		},
		Storage: StorageConfig{
			RootDir:              DefaultHome(),
			FingerprintBodyBytes: 2048,
		},
		Concurrency: ConcurrencyConfig{
			GmailWorkers:         4,
			ImapFetchConcurrency: 4,
			QueueMaxsize:         100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultHome returns the default root directory for ledger/evidence/
// reports, honoring MIG_HOME if set.
func DefaultHome() string {
	if h := os.Getenv("MIG_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imap2gmail"
	}
	return filepath.Join(home, ".imap2gmail")
}

// Load merges an optional dotenv file into the process environment,
// then loads MIG_-prefixed environment variables over this tool's
// defaults. envFile may be empty, in which case only real environment
// variables are read.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotenv(envFile); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")
	cfg := defaults()

	if err := k.Load(koanfenv.Provider(".", koanfenv.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			k := strings.ToLower(strings.TrimPrefix(key, envPrefix))
			k = strings.ReplaceAll(k, "__", ".")
			return k, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal environment: %w", err)
	}

	cfg.Storage.RootDir = expandPath(cfg.Storage.RootDir)
	cfg.Storage.EvidenceDirOverride = expandPath(cfg.Storage.EvidenceDirOverride)
	cfg.Storage.ReportsDirOverride = expandPath(cfg.Storage.ReportsDirOverride)
	cfg.Storage.SqlitePathOverride = expandPath(cfg.Storage.SqlitePathOverride)
	cfg.Gmail.CredentialsFile = expandPath(cfg.Gmail.CredentialsFile)
	cfg.Gmail.TokenFile = expandPath(cfg.Gmail.TokenFile)

	return cfg, nil
}

// EvidenceDir returns the directory evidence .eml files are written
// under.
func (c *Config) EvidenceDir() string {
	if c.Storage.EvidenceDirOverride != "" {
		return c.Storage.EvidenceDirOverride
	}
	return filepath.Join(c.Storage.RootDir, "evidence")
}

// ReportsDir returns the directory verify/report JSON summaries are
// written under.
func (c *Config) ReportsDir() string {
	if c.Storage.ReportsDirOverride != "" {
		return c.Storage.ReportsDirOverride
	}
	return filepath.Join(c.Storage.RootDir, "reports")
}

// SQLitePath returns the ledger database file path.
func (c *Config) SQLitePath() string {
	if c.Storage.SqlitePathOverride != "" {
		return c.Storage.SqlitePathOverride
	}
	return filepath.Join(c.Storage.RootDir, "ledger.db")
}

// EnsureDirectories creates the root, evidence, and reports
// directories if absent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.RootDir, c.EvidenceDir(), c.ReportsDir()} {
		if err := fileutil.SecureMkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the settings required to run migrate. When dryRun is
// true, sink (Gmail) credentials are not required since no sink calls
// are made.
func (c *Config) Validate(dryRun bool) error {
	if c.IMAP.Host == "" {
		return &ConfigError{Key: "MIG_IMAP__HOST", Msg: "is required"}
	}
	if c.IMAP.Username == "" {
		return &ConfigError{Key: "MIG_IMAP__USERNAME", Msg: "is required"}
	}
	if c.IMAP.AppPassword == "" {
		return &ConfigError{Key: "MIG_IMAP__APP_PASSWORD", Msg: "is required"}
	}
	if c.IMAP.Connections < 1 || c.IMAP.Connections > 10 {
		return &ConfigError{Key: "MIG_IMAP__CONNECTIONS", Msg: "must be between 1 and 10"}
	}
	if c.IMAP.BatchSize < 1 {
		return &ConfigError{Key: "MIG_IMAP__BATCH_SIZE", Msg: "must be at least 1"}
	}

	if !dryRun {
		if c.Gmail.TargetUserEmail == "" {
			return &ConfigError{Key: "MIG_GMAIL__TARGET_USER_EMAIL", Msg: "is required unless --dry-run"}
		}
		if c.Gmail.CredentialsFile == "" {
			return &ConfigError{Key: "MIG_GMAIL__CREDENTIALS_FILE", Msg: "is required unless --dry-run"}
		}
		if c.Gmail.TokenFile == "" {
			return &ConfigError{Key: "MIG_GMAIL__TOKEN_FILE", Msg: "is required unless --dry-run"}
		}
	}
	switch c.Gmail.Mode {
	case "import", "insert":
	default:
		return &ConfigError{Key: "MIG_GMAIL__MODE", Msg: `must be "import" or "insert"`}
	}
	switch c.Gmail.InternalDateSource {
	case "dateHeader", "receivedTime":
	default:
		return &ConfigError{Key: "MIG_GMAIL__INTERNAL_DATE_SOURCE", Msg: `must be "dateHeader" or "receivedTime"`}
	}

	if c.Concurrency.GmailWorkers < 1 {
		return &ConfigError{Key: "MIG_CONCURRENCY__GMAIL_WORKERS", Msg: "must be at least 1"}
	}
	if c.Concurrency.ImapFetchConcurrency < 1 {
		return &ConfigError{Key: "MIG_CONCURRENCY__IMAP_FETCH_CONCURRENCY", Msg: "must be at least 1"}
	}
	if c.Concurrency.QueueMaxsize < 1 {
		return &ConfigError{Key: "MIG_CONCURRENCY__QUEUE_MAXSIZE", Msg: "must be at least 1"}
	}
	if c.Storage.FingerprintBodyBytes < 0 {
		return &ConfigError{Key: "MIG_STORAGE__FINGERPRINT_BODY_BYTES", Msg: "must be non-negative"}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Key: "MIG_LOGGING__LEVEL", Msg: "must be one of debug, info, warn, error"}
	}

	return nil
}

// parseStringList parses a value that may be a JSON array (e.g.
// `["a","b"]`) or a comma-separated list (e.g. `a,b`), trimming
// whitespace and dropping empty entries either way.
func parseStringList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
		// Fall through to comma-splitting if it merely looked like JSON.
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandPath expands a leading "~" to the user's home directory. An
// empty input is returned unchanged.
func expandPath(path string) string {
	if path == "" || path == "~" {
		if path == "~" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
