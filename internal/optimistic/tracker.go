// Package optimistic tracks local actions that the server has not confirmed
// yet and overlays them onto the authoritative conversation list.
package optimistic

import (
	"slices"
	"sync"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// DefaultTTL bounds how long an unconfirmed intent may mask server state.
const DefaultTTL = 5 * time.Second

// Intent is one local mutation. It targets a conversation by ID or, when the
// conversation is not known locally yet, by PageID and ScopedUserID.
// Nil fields leave the conversation unchanged. A non-nil empty AssignTo
// clears the assignees.
type Intent struct {
	ID           string
	PageID       string
	ScopedUserID string

	IsPinned      *bool
	Unread        *bool
	IsBlocked     *bool
	AssignGroupID *string
	AssignTo      []string
}

func (i Intent) empty() bool {
	return i.IsPinned == nil && i.Unread == nil && i.IsBlocked == nil &&
		i.AssignGroupID == nil && i.AssignTo == nil
}

func (i Intent) matches(c api.Conversation) bool {
	if i.ID != "" && i.ID == c.ID {
		return true
	}
	return i.PageID != "" && i.ScopedUserID != "" &&
		i.PageID == c.PageID && i.ScopedUserID == c.ScopedUserID
}

func (i Intent) sameTarget(o Intent) bool {
	if i.ID != "" && i.ID == o.ID {
		return true
	}
	return i.PageID != "" && i.ScopedUserID != "" &&
		i.PageID == o.PageID && i.ScopedUserID == o.ScopedUserID
}

// overlay returns c with every set field of i applied.
func (i Intent) overlay(c api.Conversation) api.Conversation {
	c = c.Clone()
	if i.AssignGroupID != nil {
		c.AssignGroupID = *i.AssignGroupID
	}
	if i.AssignTo != nil {
		c.AssignTo = slices.Clone(i.AssignTo)
	}
	if i.IsBlocked != nil {
		c.IsBlocked = *i.IsBlocked
	}
	if i.IsPinned != nil {
		c.IsPinned = *i.IsPinned
	}
	if i.Unread != nil {
		c.Unread = *i.Unread
		if !c.Unread {
			c.UnreadCount = 0
		}
	}
	return c
}

// settle clears every field whose authoritative value already equals the
// intent.
func (i *Intent) settle(c api.Conversation) {
	if i.AssignGroupID != nil && c.AssignGroupID == *i.AssignGroupID {
		i.AssignGroupID = nil
	}
	if i.AssignTo != nil && sameSet(c.AssignTo, i.AssignTo) {
		i.AssignTo = nil
	}
	if i.IsBlocked != nil && c.IsBlocked == *i.IsBlocked {
		i.IsBlocked = nil
	}
	if i.IsPinned != nil && c.IsPinned == *i.IsPinned {
		i.IsPinned = nil
	}
	if i.Unread != nil && c.Unread == *i.Unread {
		i.Unread = nil
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

type entry struct {
	intent   Intent
	recorded time.Time
}

// Tracker holds pending intents. It is safe for concurrent use.
type Tracker struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries []*entry
}

// NewTracker returns a Tracker whose intents expire after ttl.
// A non-positive ttl uses DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, now: time.Now}
}

// Record stores intent, merging it field by field over any pending intent
// for the same conversation. The last recorded value per field wins.
func (t *Tracker) Record(intent Intent) {
	if intent.empty() || (intent.ID == "" && (intent.PageID == "" || intent.ScopedUserID == "")) {
		return
	}
	intent.AssignTo = slices.Clone(intent.AssignTo)

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, e := range t.entries {
		if !e.intent.sameTarget(intent) {
			continue
		}
		merged := e.intent
		if merged.ID == "" {
			merged.ID = intent.ID
		}
		if merged.PageID == "" {
			merged.PageID, merged.ScopedUserID = intent.PageID, intent.ScopedUserID
		}
		if intent.AssignGroupID != nil {
			merged.AssignGroupID = intent.AssignGroupID
		}
		if intent.AssignTo != nil {
			merged.AssignTo = intent.AssignTo
		}
		if intent.IsBlocked != nil {
			merged.IsBlocked = intent.IsBlocked
		}
		if intent.IsPinned != nil {
			merged.IsPinned = intent.IsPinned
		}
		if intent.Unread != nil {
			merged.Unread = intent.Unread
		}
		e.intent = merged
		e.recorded = now
		return
	}
	t.entries = append(t.entries, &entry{intent: intent, recorded: now})
}

// Withdraw takes back the fields of intent that are still pending with the
// same value, after the request that produced them failed. Fields recorded
// again since then are kept.
func (t *Tracker) Withdraw(intent Intent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if !e.intent.sameTarget(intent) {
			continue
		}
		p := &e.intent
		if intent.AssignGroupID != nil && p.AssignGroupID != nil && *p.AssignGroupID == *intent.AssignGroupID {
			p.AssignGroupID = nil
		}
		if intent.AssignTo != nil && p.AssignTo != nil && sameSet(p.AssignTo, intent.AssignTo) {
			p.AssignTo = nil
		}
		if intent.IsBlocked != nil && p.IsBlocked != nil && *p.IsBlocked == *intent.IsBlocked {
			p.IsBlocked = nil
		}
		if intent.IsPinned != nil && p.IsPinned != nil && *p.IsPinned == *intent.IsPinned {
			p.IsPinned = nil
		}
		if intent.Unread != nil && p.Unread != nil && *p.Unread == *intent.Unread {
			p.Unread = nil
		}
		if p.empty() {
			t.entries = slices.Delete(t.entries, i, i+1)
		}
		return
	}
}

// Apply returns a fresh list with every pending intent overlaid on its
// conversation. The input is not modified.
func (t *Tracker) Apply(list []api.Conversation) []api.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	out := make([]api.Conversation, len(list))
	for i, c := range list {
		out[i] = c
		for _, e := range t.entries {
			if e.intent.matches(c) {
				out[i] = e.intent.overlay(c)
				break
			}
		}
	}
	return out
}

// Reconcile drops the fields of pending intents that the authoritative list
// already reflects, and intents that have expired.
func (t *Tracker) Reconcile(list []api.Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	kept := t.entries[:0]
	for _, e := range t.entries {
		for _, c := range list {
			if e.intent.matches(c) {
				e.intent.settle(c)
				break
			}
		}
		if !e.intent.empty() {
			kept = append(kept, e)
		}
	}
	clear(t.entries[len(kept):])
	t.entries = kept
}

// Prune removes expired intents and reports how many were dropped.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked()
}

func (t *Tracker) pruneLocked() int {
	cutoff := t.now().Add(-t.ttl)
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.recorded.After(cutoff) {
			kept = append(kept, e)
		}
	}
	dropped := len(t.entries) - len(kept)
	clear(t.entries[len(kept):])
	t.entries = kept
	return dropped
}

// Len returns the number of pending intents.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Pending returns a copy of the pending intents.
func (t *Tracker) Pending() []Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Intent, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.intent)
	}
	return out
}

// Bool returns a pointer to v, for building intents.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building intents.
func String(v string) *string { return &v }
