// Package visibility decides whether a conversation belongs in the current
// view given filter criteria, assignment settings and the acting user.
//
// Evaluation is pure. Any failure while evaluating rejects the conversation.
package visibility

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/debug"
)

// Reason names the predicate that rejected a conversation.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonUnread       Reason = "unread"
	ReasonInbox        Reason = "inbox"
	ReasonComment      Reason = "comment"
	ReasonPhone        Reason = "phone"
	ReasonNoPhone      Reason = "no-phone"
	ReasonUnreplied    Reason = "un-replied"
	ReasonTags         Reason = "tags"
	ReasonTimePeriod   Reason = "time-period"
	ReasonPages        Reason = "pages"
	ReasonNoUser       Reason = "no-user"
	ReasonSettings     Reason = "settings"
	ReasonAssignment   Reason = "assignment"
	ReasonName         Reason = "name"
	ReasonEvalFailure  Reason = "evaluation-failure"
	ReasonPhoneMissing Reason = "phone-search"
)

// Matches reports whether conv belongs in the view.
func Matches(conv api.Conversation, c Criteria, s *AssignmentSettings, u *User) bool {
	ok, _ := Evaluate(conv, c, s, u)
	return ok
}

// Evaluate is Matches plus the first failing predicate. A panic during
// evaluation is recovered and reported as ReasonEvalFailure.
func Evaluate(conv api.Conversation, c Criteria, s *AssignmentSettings, u *User) (ok bool, reason Reason) {
	defer func() {
		if r := recover(); r != nil {
			debug.Component("visibility").Debug("filter evaluation failed",
				"conversation", conv.ID, "panic", fmt.Sprint(r))
			ok, reason = false, ReasonEvalFailure
		}
	}()

	if r := facets(conv, c); r != ReasonNone {
		return false, r
	}
	if !u.IsAdmin() {
		if r := assignment(conv, s, u); r != ReasonNone {
			return false, r
		}
	}
	if r := name(conv, c.Name); r != ReasonNone {
		return false, r
	}
	return true, ReasonNone
}

func facets(conv api.Conversation, c Criteria) Reason {
	if len(c.Facets) == 0 {
		return ReasonNone
	}
	if c.Has(FacetUnread) && !conv.Unread {
		return ReasonUnread
	}
	if c.Has(FacetInbox) && conv.Type == api.ConversationTypeComment {
		return ReasonInbox
	}
	if c.Has(FacetComment) && conv.Type == api.ConversationTypeInbox {
		return ReasonComment
	}
	if c.Has(FacetPhone) && len(conv.RecentPhoneNumbers) == 0 {
		return ReasonPhone
	}
	if c.Has(FacetNoPhone) && len(conv.RecentPhoneNumbers) > 0 {
		return ReasonNoPhone
	}
	if c.Has(FacetUnreplied) && conv.LastSentByPage {
		return ReasonUnreplied
	}
	if c.Has(FacetTags) && !tagsMatch(conv.Tags, c) {
		return ReasonTags
	}
	if c.Has(FacetTimePeriod) && !inPeriod(conv, c) {
		return ReasonTimePeriod
	}
	if c.Has(FacetPages) && !slices.Contains(c.PageIDs, conv.PageID) {
		return ReasonPages
	}
	return ReasonNone
}

func tagsMatch(have []string, c Criteria) bool {
	contains := func(tag string) bool { return slices.Contains(have, tag) }

	var matched bool
	if c.TagsType == TagsAll {
		matched = !slices.ContainsFunc(c.Tags, func(tag string) bool { return !contains(tag) })
	} else {
		matched = slices.ContainsFunc(c.Tags, contains)
	}
	if c.TagsMode == TagsNotContains {
		return !matched
	}
	return matched
}

// inPeriod treats both bounds as exclusive. An incomplete period passes.
func inPeriod(conv api.Conversation, c Criteria) bool {
	if c.TimePeriod == "" || c.Since.IsZero() || c.Until.IsZero() {
		return true
	}
	var t time.Time
	switch c.TimePeriod {
	case TimeCreated:
		t = conv.CreatedAt
	case TimeUpdated:
		t = conv.UpdatedAt
	default:
		return true
	}
	return t.After(c.Since) && t.Before(c.Until)
}

func assignment(conv api.Conversation, s *AssignmentSettings, u *User) Reason {
	if u == nil || u.ID == "" {
		return ReasonNoUser
	}
	if err := s.Validate(); err != nil {
		debug.Component("visibility").Debug("rejecting on settings", "conversation", conv.ID, "error", err)
		return ReasonSettings
	}

	switch s.Mode {
	case ModeOff:
		if s.StaffViewOwnChatsOnly && !conv.IsAssignedTo(u.ID) {
			return ReasonAssignment
		}
	case ModeSelf:
		if s.StaffViewOwnAndUnassignedChats && len(conv.AssignTo) > 0 && !conv.IsAssignedTo(u.ID) {
			return ReasonAssignment
		}
	case ModeTeam:
		var granted []string
		for _, t := range s.Teams {
			if slices.Contains(t.UserIDs, u.ID) {
				granted = append(granted, t.ID)
			}
		}
		if len(granted) > 0 && !slices.Contains(granted, conv.AssignGroupID) && !s.StaffNotInListCanViewAllChats {
			return ReasonAssignment
		}
	case ModeAccount:
		return accountAssignment(conv, s, u)
	}
	return ReasonNone
}

func accountAssignment(conv api.Conversation, s *AssignmentSettings, u *User) Reason {
	inbox := assigneeIDs(s.InboxAssignees)
	comment := assigneeIDs(s.CommentAssignees)

	listed := slices.Contains(inbox, u.ID) || slices.Contains(comment, u.ID)
	if s.AllowUnselectedStaffToViewAllChats && !listed {
		return ReasonNone
	}

	var list []string
	switch conv.Type {
	case api.ConversationTypeInbox:
		list = inbox
	case api.ConversationTypeComment:
		list = comment
	default:
		return ReasonNone
	}
	if len(list) == 0 || !slices.Contains(list, u.ID) || !conv.IsAssignedTo(u.ID) {
		return ReasonAssignment
	}
	return ReasonNone
}

func assigneeIDs(list []Assignee) []string {
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}

// name matches digits against recorded phone numbers and anything else
// against the counterpart's display name.
func name(conv api.Conversation, filter string) Reason {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return ReasonNone
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, filter)
	if isDigits(digits) {
		for _, p := range conv.RecentPhoneNumbers {
			if strings.Contains(p.PhoneNumber, digits) {
				return ReasonNone
			}
		}
		return ReasonPhoneMissing
	}

	if !strings.Contains(strings.ToLower(conv.From.Name), strings.ToLower(filter)) {
		return ReasonName
	}
	return ReasonNone
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
