package visibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialinbox/inbox-cli/internal/api"
)

var (
	staff = &User{ID: "u1"}
	admin = &User{ID: "boss", Permissions: Permissions{GroupAutoAssignment: int(ActionUpdate)}}
	open  = &AssignmentSettings{}
)

func conv(mut ...func(*api.Conversation)) api.Conversation {
	c := api.Conversation{
		ID:     "c1",
		PageID: "p1",
		Type:   api.ConversationTypeInbox,
		From:   api.Sender{ID: "s1", Name: "Nguyen Van An"},
	}
	for _, m := range mut {
		m(&c)
	}
	return c
}

func TestFacets(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		conv     api.Conversation
		criteria Criteria
		want     Reason
	}{
		{"no facets", conv(), Criteria{}, ReasonNone},
		{"unread wants unread", conv(), Criteria{Facets: []Facet{FacetUnread}}, ReasonUnread},
		{"unread ok", conv(func(c *api.Conversation) { c.Unread = true }), Criteria{Facets: []Facet{FacetUnread}}, ReasonNone},
		{"inbox rejects comment", conv(func(c *api.Conversation) { c.Type = api.ConversationTypeComment }), Criteria{Facets: []Facet{FacetInbox}}, ReasonInbox},
		{"comment rejects inbox", conv(), Criteria{Facets: []Facet{FacetComment}}, ReasonComment},
		{"phone missing", conv(), Criteria{Facets: []Facet{FacetPhone}}, ReasonPhone},
		{"no-phone with phone", conv(func(c *api.Conversation) {
			c.RecentPhoneNumbers = []api.PhoneNumber{{PhoneNumber: "0901"}}
		}), Criteria{Facets: []Facet{FacetNoPhone}}, ReasonNoPhone},
		{"un-replied but page sent last", conv(func(c *api.Conversation) { c.LastSentByPage = true }), Criteria{Facets: []Facet{FacetUnreplied}}, ReasonUnreplied},
		{"pages member", conv(), Criteria{Facets: []Facet{FacetPages}, PageIDs: []string{"p1"}}, ReasonNone},
		{"pages non-member", conv(), Criteria{Facets: []Facet{FacetPages}, PageIDs: []string{"p2"}}, ReasonPages},
		{"time inside", conv(func(c *api.Conversation) { c.UpdatedAt = t0 }), Criteria{
			Facets: []Facet{FacetTimePeriod}, TimePeriod: TimeUpdated,
			Since: t0.Add(-time.Hour), Until: t0.Add(time.Hour),
		}, ReasonNone},
		{"time on bound is excluded", conv(func(c *api.Conversation) { c.CreatedAt = t0 }), Criteria{
			Facets: []Facet{FacetTimePeriod}, TimePeriod: TimeCreated,
			Since: t0, Until: t0.Add(time.Hour),
		}, ReasonTimePeriod},
		{"time outside", conv(func(c *api.Conversation) { c.CreatedAt = t0.Add(-2 * time.Hour) }), Criteria{
			Facets: []Facet{FacetTimePeriod}, TimePeriod: TimeCreated,
			Since: t0.Add(-time.Hour), Until: t0.Add(time.Hour),
		}, ReasonTimePeriod},
		{"time incomplete passes", conv(), Criteria{Facets: []Facet{FacetTimePeriod}, TimePeriod: TimeCreated, Since: t0}, ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Evaluate(tt.conv, tt.criteria, open, staff)
			assert.Equal(t, tt.want, reason)
			assert.Equal(t, tt.want == ReasonNone, ok)
		})
	}
}

func TestTagsFacet(t *testing.T) {
	c := conv(func(c *api.Conversation) { c.Tags = []string{"vip", "lead"} })

	tests := []struct {
		name string
		typ  TagsType
		mode TagsMode
		tags []string
		want bool
	}{
		{"and contains all", TagsAll, TagsContains, []string{"vip", "lead"}, true},
		{"and contains missing one", TagsAll, TagsContains, []string{"vip", "spam"}, false},
		{"or contains one", TagsAny, TagsContains, []string{"spam", "lead"}, true},
		{"or contains none", TagsAny, TagsContains, []string{"spam"}, false},
		{"or not-contains none", TagsAny, TagsNotContains, []string{"spam"}, true},
		{"and not-contains all", TagsAll, TagsNotContains, []string{"vip", "lead"}, false},
		{"default mode keeps matches", TagsAny, "", []string{"vip"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(c, Criteria{Facets: []Facet{FacetTags}, Tags: tt.tags, TagsType: tt.typ, TagsMode: tt.mode}, open, staff)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssignmentGate(t *testing.T) {
	mine := conv(func(c *api.Conversation) { c.AssignTo = []string{"u1"} })
	theirs := conv(func(c *api.Conversation) { c.AssignTo = []string{"u2"} })
	unassigned := conv()
	teamA := conv(func(c *api.Conversation) { c.AssignGroupID = "team-a" })
	teamB := conv(func(c *api.Conversation) { c.AssignGroupID = "team-b" })
	myComment := conv(func(c *api.Conversation) {
		c.Type = api.ConversationTypeComment
		c.AssignTo = []string{"u1"}
	})

	teams := []*Team{{ID: "team-a", UserIDs: []string{"u1"}}, {ID: "team-b", UserIDs: []string{"u9"}}}
	inboxU1 := []Assignee{{ID: "u1"}}

	tests := []struct {
		name     string
		conv     api.Conversation
		settings *AssignmentSettings
		want     bool
	}{
		{"off without restriction", theirs, &AssignmentSettings{Mode: ModeOff}, true},
		{"off own only, mine", mine, &AssignmentSettings{Mode: ModeOff, StaffViewOwnChatsOnly: true}, true},
		{"off own only, theirs", theirs, &AssignmentSettings{Mode: ModeOff, StaffViewOwnChatsOnly: true}, false},
		{"self own+unassigned, unassigned", unassigned, &AssignmentSettings{Mode: ModeSelf, StaffViewOwnAndUnassignedChats: true}, true},
		{"self own+unassigned, theirs", theirs, &AssignmentSettings{Mode: ModeSelf, StaffViewOwnAndUnassignedChats: true}, false},
		{"team member sees own team", teamA, &AssignmentSettings{Mode: ModeTeam, Teams: teams}, true},
		{"team member blocked from other team", teamB, &AssignmentSettings{Mode: ModeTeam, Teams: teams}, false},
		{"team override", teamB, &AssignmentSettings{Mode: ModeTeam, Teams: teams, StaffNotInListCanViewAllChats: true}, true},
		{"team non-member sees all", teamB, &AssignmentSettings{Mode: ModeTeam, Teams: teams[1:]}, true},
		{"account listed and assigned", mine, &AssignmentSettings{Mode: ModeAccount, InboxAssignees: inboxU1}, true},
		{"account listed not assigned", theirs, &AssignmentSettings{Mode: ModeAccount, InboxAssignees: inboxU1}, false},
		{"account empty inbox list", mine, &AssignmentSettings{Mode: ModeAccount, CommentAssignees: inboxU1}, false},
		{"account empty comment list", myComment, &AssignmentSettings{Mode: ModeAccount, InboxAssignees: inboxU1}, false},
		{"account unselected staff override", theirs, &AssignmentSettings{
			Mode: ModeAccount, AllowUnselectedStaffToViewAllChats: true, InboxAssignees: []Assignee{{ID: "u7"}},
		}, true},
		{"account override ignored when listed", theirs, &AssignmentSettings{
			Mode: ModeAccount, AllowUnselectedStaffToViewAllChats: true, CommentAssignees: inboxU1,
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.conv, Criteria{}, tt.settings, staff))
		})
	}
}

func TestAdminSkipsGate(t *testing.T) {
	theirs := conv(func(c *api.Conversation) { c.AssignTo = []string{"u2"} })
	strict := &AssignmentSettings{Mode: ModeOff, StaffViewOwnChatsOnly: true}

	assert.False(t, Matches(theirs, Criteria{}, strict, staff))
	assert.True(t, Matches(theirs, Criteria{}, strict, admin))

	reader := &User{ID: "r", Permissions: Permissions{GroupAutoAssignment: int(ActionRead)}}
	assert.True(t, reader.IsAdmin())

	creator := &User{ID: "c", Permissions: Permissions{GroupAutoAssignment: int(ActionCreate | ActionDelete)}}
	assert.False(t, creator.IsAdmin())

	other := &User{ID: "o", Permissions: Permissions{"chatSetting": int(ActionRead | ActionUpdate)}}
	assert.False(t, other.IsAdmin())
}

func TestFailClosed(t *testing.T) {
	c := conv()

	tests := []struct {
		name     string
		settings *AssignmentSettings
		user     *User
		want     Reason
	}{
		{"nil user", open, nil, ReasonNoUser},
		{"user without id", open, &User{}, ReasonNoUser},
		{"nil settings", nil, staff, ReasonSettings},
		{"unknown mode", &AssignmentSettings{Mode: "roundRobin"}, staff, ReasonSettings},
		{"nil team entry", &AssignmentSettings{Mode: ModeTeam, Teams: []*Team{nil}}, staff, ReasonSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ok bool
			var reason Reason
			require.NotPanics(t, func() { ok, reason = Evaluate(c, Criteria{}, tt.settings, tt.user) })
			assert.False(t, ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(`{
		"typeAssignment": "teamAssignment",
		"listTeamAssignment": [{"id": "t1", "userIds": ["u1"]}],
		"usersAssignedToInboxs": [{"id": "u1"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, ModeTeam, s.Mode)
	assert.Equal(t, "t1", s.Teams[0].ID)
	assert.Equal(t, "u1", s.InboxAssignees[0].ID)

	_, err = ParseSettings([]byte(`{"listTeamAssignment": [null]}`))
	var se *SettingsError
	assert.ErrorAs(t, err, &se)

	_, err = ParseSettings([]byte(`{"typeAssignment": 3}`))
	assert.ErrorAs(t, err, &se)
}

func TestNameFilter(t *testing.T) {
	withPhones := conv(func(c *api.Conversation) {
		c.RecentPhoneNumbers = []api.PhoneNumber{{PhoneNumber: "0901234567"}, {PhoneNumber: "0288889999"}}
	})

	tests := []struct {
		name   string
		conv   api.Conversation
		filter string
		want   bool
	}{
		{"empty filter", conv(), "   ", true},
		{"name substring case-insensitive", conv(), "van an", true},
		{"name mismatch", conv(), "tran", false},
		{"digits match one phone", withPhones, "1234", true},
		{"digits with spaces", withPhones, " 090 123 ", true},
		{"digits match no phone", withPhones, "5555", false},
		{"digits without phones", conv(), "090", false},
		{"missing display name", conv(func(c *api.Conversation) { c.From.Name = "" }), "an", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.conv, Criteria{Name: tt.filter}, open, staff))
		})
	}
}

func TestEvaluationOrder(t *testing.T) {
	c := conv(func(c *api.Conversation) { c.AssignTo = []string{"u2"} })
	strict := &AssignmentSettings{Mode: ModeOff, StaffViewOwnChatsOnly: true}

	_, reason := Evaluate(c, Criteria{Facets: []Facet{FacetUnread}, Name: "zzz"}, strict, staff)
	assert.Equal(t, ReasonUnread, reason, "facets run before the assignment gate")

	_, reason = Evaluate(c, Criteria{Name: "zzz"}, strict, staff)
	assert.Equal(t, ReasonAssignment, reason, "assignment runs before the name search")
}

func TestCriteriaParams(t *testing.T) {
	c := Criteria{
		Name:         "an",
		Facets:       []Facet{FacetUnread, FacetTags},
		Tags:         []string{"vip"},
		TagsType:     TagsAny,
		TagsMode:     TagsContains,
		PageIDs:      []string{"p1"},
		SortByUnread: true,
	}
	p := c.Params(api.Scope{PageID: "p1"})
	assert.Equal(t, []string{"unread", "tags"}, p.Types)
	assert.Equal(t, "OR", p.FilterTagsType)
	assert.Equal(t, "contains", p.FilterTagsMode)
	assert.Equal(t, []string{"p1"}, p.ListPageIDs)
	assert.True(t, p.SortByUnread)
	assert.Equal(t, "p1", p.Scope.PageID)
	assert.Empty(t, p.AfterCursor)
}
