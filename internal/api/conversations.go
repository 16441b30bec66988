package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListConversationsParams defines filters for listing conversations.
// Field names follow the server's query parameters.
type ListConversationsParams struct {
	Scope          Scope
	Name           string
	Types          []string
	Tags           []string
	FilterTagsType string
	FilterTagsMode string
	TypeTimePeriod string
	Since          time.Time
	Until          time.Time
	ListPageIDs    []string
	SortByUnread   bool
	AfterCursor    string
}

func buildConversationQuery(params ListConversationsParams) url.Values {
	query := url.Values{}

	if len(params.Scope.PageIDs) > 0 {
		for _, id := range params.Scope.PageIDs {
			query.Add("pageIds", id)
		}
	} else if params.Scope.PageID != "" {
		query.Set("pageId", params.Scope.PageID)
	}
	if params.Name != "" {
		query.Set("name", params.Name)
	}
	for _, t := range params.Types {
		query.Add("type", t)
	}
	for _, t := range params.Tags {
		query.Add("tags", t)
	}
	if params.FilterTagsType != "" {
		query.Set("filterTagsType", params.FilterTagsType)
	}
	if params.FilterTagsMode != "" {
		query.Set("filterTagsMode", params.FilterTagsMode)
	}
	if params.TypeTimePeriod != "" {
		query.Set("typeTimePeriod", params.TypeTimePeriod)
	}
	if !params.Since.IsZero() {
		query.Set("timeRange[since]", params.Since.UTC().Format(time.RFC3339))
	}
	if !params.Until.IsZero() {
		query.Set("timeRange[until]", params.Until.UTC().Format(time.RFC3339))
	}
	for _, id := range params.ListPageIDs {
		query.Add("listPageIds", id)
	}
	if params.SortByUnread {
		query.Set("sortByUnread", strconv.FormatBool(true))
	}
	if params.AfterCursor != "" {
		query.Set("afterCursor", params.AfterCursor)
	}
	return query
}

// List retrieves one page of conversations.
func (s ConversationsService) List(ctx context.Context, params ListConversationsParams) (*Page[Conversation], error) {
	var result Page[Conversation]
	if err := s.do(ctx, http.MethodGet, s.path("conversation", buildConversationQuery(params)), nil, &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		result.Data = []Conversation{}
	}
	return &result, nil
}

// SeenRequest acknowledges that the operator has read a conversation.
type SeenRequest struct {
	FeedID       string `json:"feedId,omitempty"`
	PageID       string `json:"pageId"`
	ScopedUserID string `json:"scopedUserId"`
	Unread       bool   `json:"unread"`
}

// Seen marks a conversation as seen (or unseen).
func (s ConversationsService) Seen(ctx context.Context, req SeenRequest) (*Conversation, error) {
	var result struct {
		Data *Conversation `json:"data"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("conversation/seen", nil), req, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// BulkUpdateRequest updates flags on several conversations at once.
type BulkUpdateRequest struct {
	ConversationIDs []string `json:"conversationIds"`
	IsPinned        *bool    `json:"isPinned,omitempty"`
	Unread          *bool    `json:"unread,omitempty"`
}

// BulkUpdate updates pin/unread flags on a set of conversations.
func (s ConversationsService) BulkUpdate(ctx context.Context, req BulkUpdateRequest) error {
	return s.do(ctx, http.MethodPut, s.path("conversation/bulk-update", nil), req, nil)
}

// AssignRequest changes the assignment of a conversation.
type AssignRequest struct {
	ID            string   `json:"_id"`
	AssignGroupID *string  `json:"assignGroupId,omitempty"`
	AssignTo      []string `json:"assignTo,omitempty"`
}

// Assign assigns a conversation to a team group and/or users.
func (s ConversationsService) Assign(ctx context.Context, req AssignRequest) error {
	return s.do(ctx, http.MethodPost, s.path("conversation/assign", nil), req, nil)
}

// BlockRequest blocks or unblocks the counterpart of a conversation.
type BlockRequest struct {
	PageID       string `json:"pageId"`
	ScopedUserID string `json:"scopedUserId"`
	FeedID       string `json:"feedId,omitempty"`
	Block        bool   `json:"block"`
}

// Block blocks or unblocks a counterpart.
func (s ConversationsService) Block(ctx context.Context, req BlockRequest) error {
	return s.do(ctx, http.MethodPost, s.path("conversation/block", nil), req, nil)
}
