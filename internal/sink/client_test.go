package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

type staticProvider struct {
	token    string
	identity string
}

func (p staticProvider) Token(ctx context.Context) (string, error)    { return p.token, nil }
func (p staticProvider) Identity(ctx context.Context) (string, error) { return p.identity, nil }

func writeEML(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.eml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("Subject: hi\r\n\r\nhello"); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}

func TestGmailClientImportSuccess(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages/import", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "msg1",
			"threadId": "thread1",
			"labelIds": []string{"INBOX"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGmailClient(staticProvider{token: "tok123"}, "", InternalDateSourceDateHeader,
		WithGmailBaseURLs(srv.URL, srv.URL))

	result, err := client.Import(context.Background(), writeEML(t), []string{"INBOX"}, ModeImport)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.MessageID != "msg1" || result.ThreadID != "thread1" {
		t.Fatalf("got %+v", result)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("got Authorization %q", gotAuth)
	}
}

func TestGmailClientImportMissingIDIsIngestError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages/insert", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"threadId": "thread1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGmailClient(staticProvider{token: "tok"}, "", InternalDateSourceReceivedTime,
		WithGmailBaseURLs(srv.URL, srv.URL))

	_, err := client.Import(context.Background(), writeEML(t), nil, ModeInsert)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*IngestError); !ok {
		t.Fatalf("expected *IngestError, got %T: %v", err, err)
	}
}

func TestGmailClientIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "alice@example.com"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGmailClient(staticProvider{token: "tok"}, "", InternalDateSourceDateHeader,
		WithGmailBaseURLs(srv.URL, srv.URL))

	got, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if got != "alice@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestGmailClientEnsureLabelCreatesOnMiss(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"id": "Label_1", "name": "iCloud/Projects"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGmailClient(staticProvider{token: "tok"}, "", InternalDateSourceDateHeader,
		WithGmailBaseURLs(srv.URL, srv.URL))

	id1, err := client.EnsureLabel(context.Background(), "iCloud/Projects")
	if err != nil {
		t.Fatalf("EnsureLabel: %v", err)
	}
	id2, err := client.EnsureLabel(context.Background(), "iCloud/Projects")
	if err != nil {
		t.Fatalf("EnsureLabel: %v", err)
	}
	if id1 != "Label_1" || id2 != "Label_1" {
		t.Fatalf("got %q, %q", id1, id2)
	}
	if calls != 1 {
		t.Fatalf("expected single create call, got %d", calls)
	}
}
