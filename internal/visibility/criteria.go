package visibility

import (
	"slices"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// Facet is one named filter predicate.
type Facet string

const (
	FacetUnread     Facet = "unread"
	FacetInbox      Facet = "inbox"
	FacetComment    Facet = "comment"
	FacetPhone      Facet = "phone"
	FacetNoPhone    Facet = "no-phone"
	FacetUnreplied  Facet = "un-replied"
	FacetTags       Facet = "tags"
	FacetTimePeriod Facet = "time-period"
	FacetPages      Facet = "pages"
)

// Facets lists every known facet in evaluation order.
var Facets = []Facet{
	FacetUnread,
	FacetInbox,
	FacetComment,
	FacetPhone,
	FacetNoPhone,
	FacetUnreplied,
	FacetTags,
	FacetTimePeriod,
	FacetPages,
}

// TagsType combines the requested tags: all of them, or any of them.
type TagsType string

const (
	TagsAll TagsType = "AND"
	TagsAny TagsType = "OR"
)

// TagsMode keeps or inverts the tag match.
type TagsMode string

const (
	TagsContains    TagsMode = "contains"
	TagsNotContains TagsMode = "notContains"
)

// TimePeriod selects the timestamp the time-period facet tests.
type TimePeriod string

const (
	TimeCreated TimePeriod = "created_time"
	TimeUpdated TimePeriod = "updated_time"
)

// Criteria is an immutable snapshot of which conversations are in view.
type Criteria struct {
	Name         string
	Facets       []Facet
	Tags         []string
	TagsType     TagsType
	TagsMode     TagsMode
	TimePeriod   TimePeriod
	Since        time.Time
	Until        time.Time
	PageIDs      []string
	SortByUnread bool
}

// Has reports whether facet f is requested.
func (c Criteria) Has(f Facet) bool {
	return slices.Contains(c.Facets, f)
}

// Params converts the criteria into conversation list query parameters.
func (c Criteria) Params(scope api.Scope) api.ListConversationsParams {
	types := make([]string, 0, len(c.Facets))
	for _, f := range c.Facets {
		types = append(types, string(f))
	}
	return api.ListConversationsParams{
		Scope:          scope,
		Name:           c.Name,
		Types:          types,
		Tags:           slices.Clone(c.Tags),
		FilterTagsType: string(c.TagsType),
		FilterTagsMode: string(c.TagsMode),
		TypeTimePeriod: string(c.TimePeriod),
		Since:          c.Since,
		Until:          c.Until,
		ListPageIDs:    slices.Clone(c.PageIDs),
		SortByUnread:   c.SortByUnread,
	}
}
