package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ListMessagesParams selects one page of a conversation's messages.
// BeforeCursor takes precedence over AfterCursor.
type ListMessagesParams struct {
	PageID       string
	ScopedUserID string
	AfterCursor  string
	BeforeCursor string
}

// List retrieves one page of messages, newest first.
func (s MessagesService) List(ctx context.Context, params ListMessagesParams) (*Page[Message], error) {
	query := url.Values{}
	query.Set("pageId", params.PageID)
	query.Set("scopedUserId", params.ScopedUserID)
	if params.BeforeCursor != "" {
		query.Set("beforeCursor", params.BeforeCursor)
	} else if params.AfterCursor != "" {
		query.Set("afterCursor", params.AfterCursor)
	}

	var result Page[Message]
	if err := s.do(ctx, http.MethodGet, s.path("message", query), nil, &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		result.Data = []Message{}
	}
	return &result, nil
}

// SendMessageRequest is the body of a text/attachment send.
type SendMessageRequest struct {
	Text         string       `json:"text,omitempty"`
	Attachments  []Attachment `json:"attachments"`
	Mentions     []Sender     `json:"mentions"`
	ReplyMessage *Message     `json:"replyMessage,omitempty"`
}

// Send sends a message to the counterpart of a conversation.
func (s MessagesService) Send(ctx context.Context, pageID, scopedUserID string, req SendMessageRequest) (*Message, error) {
	if req.Attachments == nil {
		req.Attachments = []Attachment{}
	}
	if req.Mentions == nil {
		req.Mentions = []Sender{}
	}
	query := url.Values{}
	query.Set("pageId", pageID)
	query.Set("scopedUserId", scopedUserID)

	var result struct {
		Data *Message `json:"data"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("message", query), req, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// ListCommentsParams selects one page of a post's comments for a counterpart.
type ListCommentsParams struct {
	PostID       string
	ScopedUserID string
	AfterCursor  string
	BeforeCursor string
}

// List retrieves one page of comments, newest first.
func (s CommentsService) List(ctx context.Context, params ListCommentsParams) (*Page[Comment], error) {
	query := url.Values{}
	if params.BeforeCursor != "" {
		query.Set("beforeCursor", params.BeforeCursor)
	} else if params.AfterCursor != "" {
		query.Set("afterCursor", params.AfterCursor)
	}

	endpoint := fmt.Sprintf("post/%s/comments/%s", url.PathEscape(params.PostID), url.PathEscape(params.ScopedUserID))
	var result Page[Comment]
	if err := s.do(ctx, http.MethodGet, s.path(endpoint, query), nil, &result); err != nil {
		return nil, err
	}
	if result.Data == nil {
		result.Data = []Comment{}
	}
	return &result, nil
}

// SendCommentRequest replies to a comment or post.
type SendCommentRequest struct {
	ObjectID    string       `json:"objectId"`
	PageID      string       `json:"pageId"`
	Message     string       `json:"message,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Send posts a reply comment.
func (s CommentsService) Send(ctx context.Context, req SendCommentRequest) (*Comment, error) {
	if req.Attachments == nil {
		req.Attachments = []Attachment{}
	}
	var result struct {
		Data *Comment `json:"data"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("comments", nil), req, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}
