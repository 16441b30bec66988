package api

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ConversationType distinguishes direct inbox threads from comment-derived ones.
type ConversationType string

const (
	ConversationTypeInbox   ConversationType = "INBOX"
	ConversationTypeComment ConversationType = "COMMENT"
)

// Sender is the counterpart (or page) that authored something.
type Sender struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	GlobalID string `json:"globalId,omitempty"`
}

// PhoneNumber is a phone number detected in a conversation's messages.
type PhoneNumber struct {
	PhoneNumber string           `json:"phoneNumber"`
	MessageID   string           `json:"messageId,omitempty"`
	Type        ConversationType `json:"type,omitempty"`
}

// Conversation is one thread between an owned page and one counterpart.
type Conversation struct {
	ID                 string           `json:"_id"`
	PageID             string           `json:"pageId"`
	ScopedUserID       string           `json:"scopedUserId"`
	FeedID             string           `json:"feedId,omitempty"`
	Type               ConversationType `json:"type"`
	From               Sender           `json:"from"`
	Snippet            string           `json:"snippet,omitempty"`
	Unread             bool             `json:"unread"`
	UnreadCount        int              `json:"unreadCount"`
	IsPinned           bool             `json:"isPinned"`
	IsBlocked          bool             `json:"isBlocked"`
	AssignGroupID      string           `json:"assignGroupId,omitempty"`
	AssignTo           []string         `json:"assignTo"`
	Tags               []string         `json:"tags"`
	RecentPhoneNumbers []PhoneNumber    `json:"recentPhoneNumbers"`
	HasPhone           bool             `json:"hasPhone"`
	LastSentByPage     bool             `json:"lastSentByPage"`
	GlobalGroupID      string           `json:"globalGroupId,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with c.
func (c Conversation) Clone() Conversation {
	c.AssignTo = slices.Clone(c.AssignTo)
	c.Tags = slices.Clone(c.Tags)
	c.RecentPhoneNumbers = slices.Clone(c.RecentPhoneNumbers)
	return c
}

// IsAssignedTo reports whether userID is one of the assignees.
func (c Conversation) IsAssignedTo(userID string) bool {
	return slices.Contains(c.AssignTo, userID)
}

// ConversationDelta is a realtime conversation payload. It keeps the raw JSON
// so that merging only overwrites the fields the server actually sent.
type ConversationDelta struct {
	Conversation
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ConversationDelta) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Conversation); err != nil {
		return err
	}
	d.raw = append(json.RawMessage(nil), data...)
	return nil
}

// ParseConversationDelta decodes a realtime payload.
func ParseConversationDelta(data []byte) (ConversationDelta, error) {
	var d ConversationDelta
	if err := json.Unmarshal(data, &d); err != nil {
		return ConversationDelta{}, fmt.Errorf("decode conversation: %w", err)
	}
	if d.ID == "" {
		return ConversationDelta{}, fmt.Errorf("decode conversation: missing _id")
	}
	return d, nil
}

// DeltaOf wraps a full conversation as a delta that overwrites every field.
func DeltaOf(c Conversation) ConversationDelta {
	return ConversationDelta{Conversation: c}
}

// MergeInto shallow-overwrites the fields present in the delta onto base.
// base is never modified.
func (d ConversationDelta) MergeInto(base Conversation) (Conversation, error) {
	if len(d.raw) == 0 {
		return d.Conversation.Clone(), nil
	}
	merged := base.Clone()
	if err := json.Unmarshal(d.raw, &merged); err != nil {
		return base, fmt.Errorf("merge conversation %s: %w", base.ID, err)
	}
	return merged, nil
}

// Attachment is a message attachment.
type Attachment struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Reaction is a reaction on a message.
type Reaction struct {
	Action   string `json:"action"`
	Emoji    string `json:"emoji,omitempty"`
	MID      string `json:"mid,omitempty"`
	Reaction string `json:"reaction"`
}

// Message belongs to exactly one inbox conversation.
type Message struct {
	ID            string       `json:"_id,omitempty"`
	PageID        string       `json:"pageId"`
	ScopedUserID  string       `json:"scopedUserId"`
	SenderID      string       `json:"senderId"`
	RecipientID   string       `json:"recipientId,omitempty"`
	From          *Sender      `json:"from,omitempty"`
	Text          string       `json:"text,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Reaction      []Reaction   `json:"reaction,omitempty"`
	Quote         *Message     `json:"quote,omitempty"`
	GlobalGroupID string       `json:"globalGroupId,omitempty"`
	DeletedAt     *time.Time   `json:"deletedAt,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`

	// Loading marks a locally created message awaiting server confirmation.
	Loading bool `json:"-"`
}

// Masked reports whether the message is a tombstone.
func (m Message) Masked() bool { return m.DeletedAt != nil }

func (m Message) Key() string     { return m.ID }
func (m Message) Time() time.Time { return m.Timestamp }
func (m Message) IsLoading() bool { return m.Loading }
func (m Message) WithLoading(loading bool) Message {
	m.Loading = loading
	return m
}

// FeedAttachment is the attachment of a comment or post.
type FeedAttachment struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Comment belongs to exactly one comment-derived conversation (a feed post).
type Comment struct {
	ID         string          `json:"_id,omitempty"`
	FeedID     string          `json:"feedId"`
	ParentID   string          `json:"parentId,omitempty"`
	ParentIDs  []string        `json:"parentIds,omitempty"`
	SenderID   string          `json:"senderId"`
	From       Sender          `json:"from"`
	Message    string          `json:"message"`
	Attachment *FeedAttachment `json:"attachment,omitempty"`
	IsHidden   bool            `json:"isHidden"`
	IsLiked    bool            `json:"isLiked"`
	DeletedAt  *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	Loading bool `json:"-"`
}

// Masked reports whether the comment is a tombstone.
func (c Comment) Masked() bool { return c.DeletedAt != nil }

func (c Comment) Key() string     { return c.ID }
func (c Comment) Time() time.Time { return c.CreatedAt }
func (c Comment) IsLoading() bool { return c.Loading }
func (c Comment) WithLoading(loading bool) Comment {
	c.Loading = loading
	return c
}

// Cursor holds the pagination cursors of a page.
type Cursor struct {
	AfterCursor  string `json:"afterCursor,omitempty"`
	BeforeCursor string `json:"beforeCursor,omitempty"`
}

// Page is one cursor-paginated response.
type Page[T any] struct {
	Data   []T    `json:"data"`
	Cursor Cursor `json:"cursor"`
}

// Scope is the set of owned page ids currently active. Either a single page
// or a page group.
type Scope struct {
	PageID  string   `json:"pageId,omitempty"`
	PageIDs []string `json:"pageIds,omitempty"`
}

// Contains reports whether pageID belongs to the scope. A page group takes
// precedence over the single page id.
func (s Scope) Contains(pageID string) bool {
	if len(s.PageIDs) > 0 {
		return slices.Contains(s.PageIDs, pageID)
	}
	return s.PageID != "" && s.PageID == pageID
}

// IsZero reports whether the scope names no page.
func (s Scope) IsZero() bool {
	return s.PageID == "" && len(s.PageIDs) == 0
}

// Key is a stable identity for the scope, suitable as a cache or fetch key.
func (s Scope) Key() string {
	if len(s.PageIDs) > 0 {
		ids := slices.Clone(s.PageIDs)
		slices.Sort(ids)
		return "group:" + strings.Join(ids, ",")
	}
	return "page:" + s.PageID
}

// Equal reports whether both scopes name the same pages.
func (s Scope) Equal(o Scope) bool {
	return s.Key() == o.Key()
}
