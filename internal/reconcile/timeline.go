package reconcile

import (
	"slices"
	"sync"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// Entry is an item of a conversation timeline (a message or a comment).
type Entry[T any] interface {
	Key() string
	Time() time.Time
	IsLoading() bool
	WithLoading(bool) T
}

// TimelineMode selects how a loaded page joins the timeline.
type TimelineMode int

const (
	// TimelineInitial replaces the timeline.
	TimelineInitial TimelineMode = iota
	// TimelineOlder appends an older page (forward cursor).
	TimelineOlder
	// TimelineNewer prepends a newer page (backward cursor).
	TimelineNewer
)

// AcceptFunc decides whether a live item belongs to the timeline, given the
// current items.
type AcceptFunc[T any] func(item T, current []T) bool

// Timeline holds the newest-first items of one conversation. Items without
// a server id are pending sends. It is safe for concurrent use.
type Timeline[T Entry[T]] struct {
	accept AcceptFunc[T]

	mu     sync.Mutex
	items  []T
	cursor api.Cursor
}

// NewTimeline returns an empty timeline. A nil accept admits every item.
func NewTimeline[T Entry[T]](accept AcceptFunc[T]) *Timeline[T] {
	return &Timeline[T]{accept: accept}
}

// MessageTimeline accepts messages exchanged with scopedUserID.
func MessageTimeline(scopedUserID string) *Timeline[api.Message] {
	return NewTimeline(func(m api.Message, _ []api.Message) bool {
		return m.ScopedUserID == scopedUserID
	})
}

// CommentTimeline accepts comments on feedID that are either top-level
// comments by scopedUserID or replies within a known thread.
func CommentTimeline(feedID, scopedUserID string) *Timeline[api.Comment] {
	return NewTimeline(func(c api.Comment, current []api.Comment) bool {
		if c.FeedID != feedID {
			return false
		}
		if c.ParentID == "" {
			return c.SenderID == scopedUserID
		}
		for _, existing := range current {
			if slices.Contains(existing.ParentIDs, c.ParentID) {
				return true
			}
		}
		return false
	})
}

// Cursor returns the pagination cursors.
func (t *Timeline[T]) Cursor() api.Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Items returns a copy of the items, newest first.
func (t *Timeline[T]) Items() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.items)
}

// Load merges a fetched page.
func (t *Timeline[T]) Load(page api.Page[T], mode TimelineMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case TimelineOlder:
		t.items = dedupKeys(append(slices.Clone(t.items), page.Data...))
		t.cursor.AfterCursor = page.Cursor.AfterCursor
	case TimelineNewer:
		t.items = dedupKeys(append(slices.Clone(page.Data), t.items...))
		t.cursor.BeforeCursor = page.Cursor.BeforeCursor
	default:
		t.items = dedupKeys(slices.Clone(page.Data))
		t.cursor = api.Cursor{AfterCursor: page.Cursor.AfterCursor}
	}
}

// Receive applies a live item. Items that do not belong are ignored.
// An item with a known id replaces it in place. Otherwise pending items are
// dropped and the item is inserted before the first older item.
func (t *Timeline[T]) Receive(item T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accept != nil && !t.accept(item, t.items) {
		return false
	}
	if key := item.Key(); key != "" {
		for i, existing := range t.items {
			if existing.Key() == key {
				t.items[i] = item
				return true
			}
		}
	}

	confirmed := slices.DeleteFunc(slices.Clone(t.items), func(e T) bool { return e.Key() == "" })
	at := slices.IndexFunc(confirmed, func(e T) bool { return e.Time().Before(item.Time()) })
	if at < 0 {
		at = len(confirmed)
	}
	t.items = slices.Insert(confirmed, at, item)
	return true
}

// AddPending puts locally created items at the front, marked as loading.
func (t *Timeline[T]) AddPending(items ...T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make([]T, 0, len(items)+len(t.items))
	for _, it := range items {
		pending = append(pending, it.WithLoading(true))
	}
	t.items = append(pending, t.items...)
}

// Confirm settles pending items after a send: on success they stay and lose
// their loading marker, on failure they are removed.
func (t *Timeline[T]) Confirm(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ok {
		t.items = slices.DeleteFunc(t.items, func(e T) bool { return e.IsLoading() })
		return
	}
	for i, e := range t.items {
		if e.IsLoading() {
			t.items[i] = e.WithLoading(false)
		}
	}
}

// dedupKeys keeps the first item per non-empty key.
func dedupKeys[T Entry[T]](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		if k := it.Key(); k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}
