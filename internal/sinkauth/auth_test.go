package sinkauth

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSecrets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client_secret.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	return path
}

func TestValidateClientSecretShapeAcceptsInstalled(t *testing.T) {
	path := writeSecrets(t, `{"installed":{"client_id":"abc","client_secret":"xyz"}}`)
	if err := validateClientSecretShape(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateClientSecretShapeRejectsWeb(t *testing.T) {
	path := writeSecrets(t, `{"web":{"client_id":"abc","client_secret":"xyz"}}`)
	err := validateClientSecretShape(path)
	if err == nil {
		t.Fatal("expected error for Web application client")
	}
	if _, ok := err.(*ClientSecretShapeError); !ok {
		t.Fatalf("expected *ClientSecretShapeError, got %T: %v", err, err)
	}
}

func TestValidateClientSecretShapeToleratesMalformedJSON(t *testing.T) {
	path := writeSecrets(t, `not json`)
	if err := validateClientSecretShape(path); err != nil {
		t.Fatalf("expected malformed JSON to be left for ConfigFromJSON, got: %v", err)
	}
}

func TestValidateClientSecretShapeMissingFile(t *testing.T) {
	if err := validateClientSecretShape(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
