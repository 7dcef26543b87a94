package sink

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var unsafeLabelCharsRe = regexp.MustCompile(`[^\w./ -]+`)

// FolderToSystemLabels maps an IMAP folder name to the Gmail system
// label(s) it corresponds to, case-insensitively. Folders that don't
// match a known system mailbox yield no labels.
func FolderToSystemLabels(folder string) []string {
	lowered := strings.ToLower(strings.TrimSpace(folder))

	switch {
	case lowered == "inbox":
		return []string{"INBOX"}
	case lowered == "sent" || strings.HasPrefix(lowered, "sent") || strings.Contains(lowered, "sent messages"):
		return []string{"SENT"}
	case strings.Contains(lowered, "trash") || lowered == "deleted messages" || lowered == "deleted":
		return []string{"TRASH"}
	case strings.Contains(lowered, "junk") || strings.Contains(lowered, "spam"):
		return []string{"SPAM"}
	case strings.Contains(lowered, "draft"):
		return []string{"DRAFT"}
	default:
		return nil
	}
}

// FolderToCustomLabel maps an IMAP folder name to a namespaced Gmail
// custom label name, sanitizing characters Gmail rejects.
func FolderToCustomLabel(prefix, folder string) string {
	trimmed := strings.Trim(strings.TrimSpace(folder), "/")
	safe := unsafeLabelCharsRe.ReplaceAllString(trimmed, "_")
	safe = strings.ReplaceAll(safe, `\`, "_")
	if prefix == "" {
		return safe
	}
	return prefix + "/" + safe
}

// ComposeLabelIDs merges system label ids with a resolved custom label
// id, deduplicating and sorting for deterministic ledger storage.
func ComposeLabelIDs(systemLabelIDs []string, customLabelID string) []string {
	set := make(map[string]struct{}, len(systemLabelIDs)+1)
	for _, id := range systemLabelIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	if customLabelID != "" {
		set[customLabelID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CreateLabelFunc creates a missing label at the sink and returns its
// id; LabelCache calls it at most once per distinct name.
type CreateLabelFunc func(ctx context.Context, name string) (string, error)

// LabelCache memoizes label name -> id lookups so the orchestrator
// only calls the sink's label-create endpoint the first time a given
// custom label is needed in a run. Mutation is confined to Refresh and
// Ensure, both taken under the same lock, so concurrent Ensure callers
// from the mailbox workers never race.
type LabelCache struct {
	mu       sync.Mutex
	nameToID map[string]string
	create   CreateLabelFunc
}

// NewLabelCache wraps create with a cache seeded from an initial
// name->id snapshot (typically the sink's current label list).
func NewLabelCache(create CreateLabelFunc, initial map[string]string) *LabelCache {
	cache := make(map[string]string, len(initial))
	for k, v := range initial {
		cache[k] = v
	}
	return &LabelCache{nameToID: cache, create: create}
}

// Refresh replaces the cached name->id map wholesale, tolerating
// entries with a missing name or id by silently skipping them.
func (c *LabelCache) Refresh(entries map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]string, len(entries))
	for name, id := range entries {
		if name == "" || id == "" {
			continue
		}
		next[name] = id
	}
	c.nameToID = next
}

// Ensure returns the id for name, creating the label at the sink and
// memoizing the result if it isn't already cached. The lock is held
// across the create call, so concurrent callers asking for the same
// missing name create it once.
func (c *LabelCache) Ensure(ctx context.Context, name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return "", fmt.Errorf("sink: label name must not be blank")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.nameToID[normalized]; ok {
		return id, nil
	}

	id, err := c.create(ctx, normalized)
	if err != nil {
		return "", err
	}

	c.nameToID[normalized] = id
	return id, nil
}
