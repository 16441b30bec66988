package visibility

import (
	"encoding/json"
	"fmt"
)

// Mode is the assignment routing mode of an account.
type Mode string

const (
	ModeOff     Mode = "autoAssignOff"
	ModeSelf    Mode = "selfAssignment"
	ModeTeam    Mode = "teamAssignment"
	ModeAccount Mode = "accountAssignment"
)

// Team is one team-assignment group.
type Team struct {
	ID      string   `json:"id"`
	UserIDs []string `json:"userIds"`
}

// Assignee is one entry of an account-assignment list.
type Assignee struct {
	ID string `json:"id"`
}

// AssignmentSettings is the read-only routing snapshot for the active
// account. An empty Mode means no routing is configured.
type AssignmentSettings struct {
	Mode                               Mode       `json:"typeAssignment,omitempty"`
	StaffViewOwnChatsOnly              bool       `json:"staffViewOwnChatsOnly"`
	StaffViewOwnAndUnassignedChats     bool       `json:"staffViewOwnAndUnassignedChats"`
	StaffNotInListCanViewAllChats      bool       `json:"staffNotInListCanViewAllChats"`
	AllowUnselectedStaffToViewAllChats bool       `json:"allowUnselectedStaffToViewAllChats"`
	Teams                              []*Team    `json:"listTeamAssignment"`
	InboxAssignees                     []Assignee `json:"usersAssignedToInboxs"`
	CommentAssignees                   []Assignee `json:"usersAssignedToComments"`

	// BlackListWords may not appear in outgoing messages.
	BlackListWords []string `json:"blackListWords"`
}

// SettingsError reports a malformed settings snapshot.
type SettingsError struct {
	Reason string
}

func (e *SettingsError) Error() string {
	return "malformed assignment settings: " + e.Reason
}

// Validate checks that the snapshot can be evaluated.
func (s *AssignmentSettings) Validate() error {
	if s == nil {
		return &SettingsError{Reason: "no settings"}
	}
	switch s.Mode {
	case "", ModeOff, ModeSelf, ModeTeam, ModeAccount:
	default:
		return &SettingsError{Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	}
	for i, t := range s.Teams {
		if t == nil {
			return &SettingsError{Reason: fmt.Sprintf("team %d is empty", i)}
		}
	}
	return nil
}

// ParseSettings decodes and validates a settings snapshot.
func ParseSettings(data []byte) (*AssignmentSettings, error) {
	var s AssignmentSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &SettingsError{Reason: err.Error()}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Action is one permission bit within a permission group.
type Action int

const (
	ActionRead   Action = 1 << iota // 1
	ActionCreate                    // 2
	ActionUpdate                    // 4
	ActionDelete                    // 8
)

// GroupAutoAssignment is the permission group guarding assignment settings.
const GroupAutoAssignment = "autoAssignmentSetting"

// Permissions maps a permission group to its action bitmask.
type Permissions map[string]int

// HasAny reports whether any of actions is granted on group.
func (p Permissions) HasAny(group string, actions ...Action) bool {
	mask := p[group]
	for _, a := range actions {
		if mask&int(a) != 0 {
			return true
		}
	}
	return false
}

// User is the acting operator.
type User struct {
	ID          string      `json:"_id"`
	Permissions Permissions `json:"permissions"`
}

// IsAdmin reports whether u may see every conversation regardless of
// assignment routing.
func (u *User) IsAdmin() bool {
	return u != nil && u.Permissions.HasAny(GroupAutoAssignment, ActionRead, ActionUpdate)
}
