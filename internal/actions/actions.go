// Package actions issues conversation mutations against the REST API. Each
// mutation is recorded as an optimistic intent before the request is sent
// and withdrawn if the request fails.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/debug"
	"github.com/socialinbox/inbox-cli/internal/optimistic"
	"github.com/socialinbox/inbox-cli/internal/reconcile"
)

// MaxBatch is the largest id list sent in one bulk-update request.
const MaxBatch = 50

// ConversationAPI is the subset of the conversations endpoint used here.
type ConversationAPI interface {
	BulkUpdate(ctx context.Context, req api.BulkUpdateRequest) error
	Assign(ctx context.Context, req api.AssignRequest) error
	Block(ctx context.Context, req api.BlockRequest) error
}

// MessageSender sends inbox messages.
type MessageSender interface {
	Send(ctx context.Context, pageID, scopedUserID string, req api.SendMessageRequest) (*api.Message, error)
}

// IntentRecorder receives mutations as they are issued. *reconcile.Engine
// implements it.
type IntentRecorder interface {
	Record(ctx context.Context, intent optimistic.Intent) error
	Withdraw(ctx context.Context, intent optimistic.Intent) error
}

// BlockedWordError is returned when an outgoing message contains a
// blacklisted word. Nothing is sent.
type BlockedWordError struct {
	Word string
}

func (e *BlockedWordError) Error() string {
	return fmt.Sprintf("message contains blocked word %q", e.Word)
}

// Options configures a Service.
type Options struct {
	Conversations ConversationAPI
	Messages      MessageSender
	Recorder      IntentRecorder
	Concurrency   int64
}

// Service dispatches actions.
type Service struct {
	conversations ConversationAPI
	messages      MessageSender
	recorder      IntentRecorder
	concurrency   int64
	log           *slog.Logger
	now           func() time.Time
}

// New returns a Service. Recorder may be nil when no engine is running.
func New(opts Options) *Service {
	return &Service{
		conversations: opts.Conversations,
		messages:      opts.Messages,
		recorder:      opts.Recorder,
		concurrency:   opts.Concurrency,
		log:           debug.Component("actions"),
		now:           time.Now,
	}
}

func (s *Service) record(ctx context.Context, intent optimistic.Intent) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, intent); err != nil {
		s.log.Debug("intent not recorded", "conversation", intent.ID, "error", err)
	}
}

func (s *Service) withdraw(ctx context.Context, intent optimistic.Intent) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Withdraw(context.WithoutCancel(ctx), intent); err != nil {
		s.log.Debug("intent not withdrawn", "conversation", intent.ID, "error", err)
	}
}

// guarded records intent, runs call and withdraws intent if call fails.
func (s *Service) guarded(ctx context.Context, intent optimistic.Intent, call func() error) error {
	s.record(ctx, intent)
	if err := call(); err != nil {
		s.withdraw(ctx, intent)
		return err
	}
	return nil
}

// Pin pins or unpins conversations.
func (s *Service) Pin(ctx context.Context, ids []string, pinned bool) []Result {
	return s.bulkUpdate(ctx, ids, api.BulkUpdateRequest{IsPinned: &pinned}, optimistic.Intent{IsPinned: optimistic.Bool(pinned)})
}

// MarkUnread marks conversations as unread, or as read when unread is false.
func (s *Service) MarkUnread(ctx context.Context, ids []string, unread bool) []Result {
	return s.bulkUpdate(ctx, ids, api.BulkUpdateRequest{Unread: &unread}, optimistic.Intent{Unread: optimistic.Bool(unread)})
}

// bulkUpdate sends ids in batches of MaxBatch. Every id of a batch shares
// the batch's outcome.
func (s *Service) bulkUpdate(ctx context.Context, ids []string, req api.BulkUpdateRequest, intent optimistic.Intent) []Result {
	ids = compact(ids)
	batches := chunk(ids, MaxBatch)
	keys := make([]string, len(batches))
	byKey := make(map[string][]string, len(batches))
	for i, b := range batches {
		keys[i] = b[0]
		byKey[b[0]] = b
	}

	forID := func(id string) optimistic.Intent {
		in := intent
		in.ID = id
		return in
	}
	for _, id := range ids {
		s.record(ctx, forID(id))
	}

	batchResults := runBulk(ctx, keys, s.concurrency, func(ctx context.Context, key string) error {
		r := req
		r.ConversationIDs = byKey[key]
		return s.conversations.BulkUpdate(ctx, r)
	})

	results := make([]Result, 0, len(ids))
	for _, br := range batchResults {
		for _, id := range byKey[br.ID] {
			results = append(results, Result{ID: id, Err: br.Err})
			if br.Err != nil {
				s.withdraw(ctx, forID(id))
			}
		}
	}
	return results
}

// Block blocks or unblocks the counterparts of conversations.
func (s *Service) Block(ctx context.Context, convs []api.Conversation, block bool) []Result {
	byID := make(map[string]api.Conversation, len(convs))
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		if _, dup := byID[c.ID]; dup {
			continue
		}
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	return runBulk(ctx, ids, s.concurrency, func(ctx context.Context, id string) error {
		c := byID[id]
		intent := optimistic.Intent{
			ID:           c.ID,
			PageID:       c.PageID,
			ScopedUserID: c.ScopedUserID,
			IsBlocked:    optimistic.Bool(block),
		}
		return s.guarded(ctx, intent, func() error {
			return s.conversations.Block(ctx, api.BlockRequest{
				PageID:       c.PageID,
				ScopedUserID: c.ScopedUserID,
				FeedID:       c.FeedID,
				Block:        block,
			})
		})
	})
}

// Assign sets the team group and/or assignees of conversations. A nil group
// leaves it unchanged; a nil users list leaves assignees unchanged.
func (s *Service) Assign(ctx context.Context, ids []string, group *string, users []string) []Result {
	return runBulk(ctx, compact(ids), s.concurrency, func(ctx context.Context, id string) error {
		intent := optimistic.Intent{ID: id, AssignGroupID: group, AssignTo: slices.Clone(users)}
		return s.guarded(ctx, intent, func() error {
			return s.conversations.Assign(ctx, api.AssignRequest{
				ID:            id,
				AssignGroupID: group,
				AssignTo:      users,
			})
		})
	})
}

// CheckBlacklist returns a *BlockedWordError for the first blacklisted word
// contained in text, compared case-insensitively.
func CheckBlacklist(text string, words []string) error {
	lower := strings.ToLower(text)
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return &BlockedWordError{Word: w}
		}
	}
	return nil
}

// SendMessage sends text to the counterpart of conv. The message shows in tl
// as pending until the server answers; a failed send removes it.
func (s *Service) SendMessage(ctx context.Context, tl *reconcile.Timeline[api.Message], conv api.Conversation, text string, blacklist []string) (*api.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is empty")
	}
	if err := CheckBlacklist(text, blacklist); err != nil {
		return nil, err
	}

	if tl != nil {
		tl.AddPending(api.Message{
			PageID:       conv.PageID,
			ScopedUserID: conv.ScopedUserID,
			SenderID:     conv.PageID,
			Text:         text,
			Timestamp:    s.now(),
		})
	}
	msg, err := s.messages.Send(ctx, conv.PageID, conv.ScopedUserID, api.SendMessageRequest{Text: text})
	if tl != nil {
		tl.Confirm(err == nil)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func compact(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
