package sink

import (
	"context"
	"errors"
	"testing"
)

func TestFolderToSystemLabels(t *testing.T) {
	cases := map[string][]string{
		"INBOX":            {"INBOX"},
		"Inbox":            {"INBOX"},
		"Sent Messages":    {"SENT"},
		"Sent":             {"SENT"},
		"Trash":            {"TRASH"},
		"Deleted Messages": {"TRASH"},
		"Deleted":          {"TRASH"},
		"Junk":             {"SPAM"},
		"Spam":             {"SPAM"},
		"Drafts":           {"DRAFT"},
		"Projects/Q1":      nil,
	}
	for folder, want := range cases {
		got := FolderToSystemLabels(folder)
		if len(got) != len(want) {
			t.Errorf("FolderToSystemLabels(%q) = %v, want %v", folder, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("FolderToSystemLabels(%q) = %v, want %v", folder, got, want)
			}
		}
	}
}

func TestFolderToCustomLabel(t *testing.T) {
	cases := []struct {
		prefix, folder, want string
	}{
		{"iCloud", "Sent Messages", "iCloud/Sent Messages"},
		{"", "Sent Messages", "Sent Messages"},
		{"iCloud", "/Projects/Q1/", "iCloud/Projects/Q1"},
		{"iCloud", `weird:name*here`, "iCloud/weird_name_here"},
	}
	for _, tc := range cases {
		got := FolderToCustomLabel(tc.prefix, tc.folder)
		if got != tc.want {
			t.Errorf("FolderToCustomLabel(%q, %q) = %q, want %q", tc.prefix, tc.folder, got, tc.want)
		}
	}
}

func TestComposeLabelIDsDedupesAndSorts(t *testing.T) {
	got := ComposeLabelIDs([]string{"INBOX", ""}, "INBOX")
	if len(got) != 1 || got[0] != "INBOX" {
		t.Fatalf("got %v", got)
	}

	got = ComposeLabelIDs([]string{"SENT"}, "Label_1")
	want := []string{"Label_1", "SENT"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLabelCacheEnsureCachesAcrossCalls(t *testing.T) {
	calls := 0
	cache := NewLabelCache(func(ctx context.Context, name string) (string, error) {
		calls++
		return "Label_" + name, nil
	}, nil)

	id1, err := cache.Ensure(context.Background(), "iCloud/Projects")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	id2, err := cache.Ensure(context.Background(), "iCloud/Projects")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id, got %q and %q", id1, id2)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one create call, got %d", calls)
	}
}

func TestLabelCacheEnsureUsesSeededEntry(t *testing.T) {
	cache := NewLabelCache(func(ctx context.Context, name string) (string, error) {
		return "", errors.New("should not be called")
	}, map[string]string{"INBOX": "INBOX"})

	id, err := cache.Ensure(context.Background(), "INBOX")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "INBOX" {
		t.Fatalf("got %q", id)
	}
}

func TestLabelCacheEnsureRejectsBlankName(t *testing.T) {
	cache := NewLabelCache(func(ctx context.Context, name string) (string, error) {
		return "x", nil
	}, nil)
	if _, err := cache.Ensure(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank label name")
	}
}

func TestRefreshSkipsMissingFields(t *testing.T) {
	cache := NewLabelCache(func(ctx context.Context, name string) (string, error) {
		return "created", nil
	}, nil)
	cache.Refresh(map[string]string{"": "x", "INBOX": "", "SENT": "Label_1"})

	id, err := cache.Ensure(context.Background(), "SENT")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "Label_1" {
		t.Fatalf("got %q, want Label_1", id)
	}
}
