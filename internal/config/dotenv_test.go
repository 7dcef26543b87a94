package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDotenv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	return path
}

func TestLoadDotenvSetsUnsetVariables(t *testing.T) {
	clearMigEnv(t)
	os.Unsetenv("MIG_TEST_DOTENV_KEY")

	path := writeDotenv(t, "# comment\nMIG_TEST_DOTENV_KEY=value1\n\nMIG_TEST_DOTENV_QUOTED=\"quoted value\"\n")
	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	defer os.Unsetenv("MIG_TEST_DOTENV_KEY")
	defer os.Unsetenv("MIG_TEST_DOTENV_QUOTED")

	if got := os.Getenv("MIG_TEST_DOTENV_KEY"); got != "value1" {
		t.Fatalf("expected value1, got %q", got)
	}
	if got := os.Getenv("MIG_TEST_DOTENV_QUOTED"); got != "quoted value" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
}

func TestLoadDotenvDoesNotOverrideRealEnv(t *testing.T) {
	t.Setenv("MIG_TEST_DOTENV_PRECEDENCE", "real-value")
	path := writeDotenv(t, "MIG_TEST_DOTENV_PRECEDENCE=from-dotenv\n")

	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	if got := os.Getenv("MIG_TEST_DOTENV_PRECEDENCE"); got != "real-value" {
		t.Fatalf("expected real environment value to win, got %q", got)
	}
}

func TestLoadDotenvRejectsMalformedLine(t *testing.T) {
	path := writeDotenv(t, "NOT_A_VALID_LINE_WITHOUT_EQUALS\n")
	if err := loadDotenv(path); err == nil {
		t.Fatal("expected error for line without '='")
	}
}

func TestLoadDotenvMissingFile(t *testing.T) {
	if err := loadDotenv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseDotenvValueStripsInlineComment(t *testing.T) {
	if got := parseDotenvValue("value # trailing comment"); got != "value" {
		t.Fatalf("expected inline comment stripped, got %q", got)
	}
}

func TestParseDotenvValueKeepsHashInsideQuotes(t *testing.T) {
	if got := parseDotenvValue(`"value # not a comment"`); got != "value # not a comment" {
		t.Fatalf("expected quoted hash preserved, got %q", got)
	}
}
