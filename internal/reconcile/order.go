package reconcile

import (
	"slices"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// sortConversations orders list in place: pinned first, then unread first
// when byUnread is set, then most recently updated first. The sort is
// stable, so ties keep their current relative order.
func sortConversations(list []api.Conversation, byUnread bool) {
	slices.SortStableFunc(list, func(a, b api.Conversation) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		if byUnread && a.Unread != b.Unread {
			if a.Unread {
				return -1
			}
			return 1
		}
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}

// dedupByID keeps the first occurrence of every id.
func dedupByID(list []api.Conversation) []api.Conversation {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, c := range list {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	clear(list[len(out):])
	return out
}

// groupIndex maps each non-empty globalGroupId to its representative.
type groupIndex map[string]api.Conversation

func indexGroups(list []api.Conversation) groupIndex {
	idx := make(groupIndex)
	for _, c := range list {
		if c.GlobalGroupID == "" {
			continue
		}
		if _, ok := idx[c.GlobalGroupID]; !ok {
			idx[c.GlobalGroupID] = c
		}
	}
	return idx
}

// admit reports whether c may join a collection indexed by idx, and records
// it as the representative of its group when it is the first one.
func (idx groupIndex) admit(c api.Conversation) bool {
	if c.GlobalGroupID == "" {
		return true
	}
	rep, ok := idx[c.GlobalGroupID]
	if !ok {
		idx[c.GlobalGroupID] = c
		return true
	}
	return rep.ID == c.ID
}

// mergePage appends page items to base, skipping ids already present and
// group chats whose group already has a representative. base is not
// modified.
func mergePage(base, page []api.Conversation) []api.Conversation {
	out := make([]api.Conversation, 0, len(base)+len(page))
	out = append(out, base...)

	ids := make(map[string]struct{}, len(out))
	for _, c := range out {
		ids[c.ID] = struct{}{}
	}
	groups := indexGroups(out)
	for _, c := range page {
		if _, dup := ids[c.ID]; dup {
			continue
		}
		if !groups.admit(c) {
			continue
		}
		ids[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
