// Package reconcile keeps the locally consistent, ordered and deduplicated
// conversation list of one scope while page loads, realtime events and
// optimistic actions race against each other.
//
// The Engine runs every operation as a task on a single goroutine (Run), so
// its state needs no locks: events that arrive while a page load is in
// flight are queued and replayed in arrival order once the load settles.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/channel"
	"github.com/socialinbox/inbox-cli/internal/debug"
	"github.com/socialinbox/inbox-cli/internal/fetch"
	"github.com/socialinbox/inbox-cli/internal/metrics"
	"github.com/socialinbox/inbox-cli/internal/optimistic"
	"github.com/socialinbox/inbox-cli/internal/visibility"
)

// LoadMode selects how a page load changes the collection.
type LoadMode int

const (
	LoadInitial LoadMode = iota
	LoadMore
	LoadRefresh
)

func (m LoadMode) String() string {
	switch m {
	case LoadMore:
		return "loadMore"
	case LoadRefresh:
		return "refresh"
	default:
		return "initial"
	}
}

// EventKind selects how a realtime item is applied.
type EventKind int

const (
	// Upsert is a conversation event: group-checked, and it acknowledges
	// new messages on the open thread.
	Upsert EventKind = iota
	// Replace is an updateConversation event: a plain merge.
	Replace
)

func (k EventKind) String() string {
	if k == Replace {
		return "replace"
	}
	return "upsert"
}

// Pager loads one page of conversations.
type Pager interface {
	FetchPage(ctx context.Context, key string, params api.ListConversationsParams, cursor api.Cursor) (api.Page[api.Conversation], error)
}

// SeenMarker acknowledges that the operator has read a conversation.
type SeenMarker interface {
	Seen(ctx context.Context, req api.SeenRequest) (*api.Conversation, error)
}

// EventSource delivers realtime events and accepts scope joins.
type EventSource interface {
	Subscribe(topic channel.Topic, h channel.Handler)
	JoinScope(ctx context.Context, scope api.Scope)
}

var (
	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("engine stopped")
	// ErrNoScope is returned by LoadPage before a scope is set.
	ErrNoScope = errors.New("no scope selected")
	// ErrUnknownConversation is returned by Select for an id not in the
	// collection.
	ErrUnknownConversation = errors.New("conversation not in collection")
)

// DefaultPruneInterval is how often expired optimistic intents are swept.
const DefaultPruneInterval = time.Second

const seenTimeout = 10 * time.Second

// Options configures an Engine. Pager is required; the rest is optional.
type Options struct {
	Pager    Pager
	Seen     SeenMarker
	Tracker  *optimistic.Tracker
	Metrics  *metrics.Metrics
	Scope    api.Scope
	Criteria visibility.Criteria
	Settings *visibility.AssignmentSettings
	User     *visibility.User

	PruneInterval time.Duration
}

type queuedEvent struct {
	delta api.ConversationDelta
	kind  EventKind
}

// Engine owns the authoritative conversation list of the active scope.
type Engine struct {
	pager   Pager
	seen    SeenMarker
	tracker *optimistic.Tracker
	metrics *metrics.Metrics
	log     *slog.Logger
	prune   time.Duration

	tasks   chan func()
	stopped chan struct{}
	acks    sync.WaitGroup

	// Everything below is owned by the Run goroutine.
	scope       api.Scope
	criteria    visibility.Criteria
	settings    *visibility.AssignmentSettings
	user        *visibility.User
	gen         uint64
	items       []api.Conversation
	view        []api.Conversation
	cursor      api.Cursor
	loading     int
	queue       []queuedEvent
	active      string
	source      EventSource
	subscribers []func([]api.Conversation)
}

// New returns an Engine. Call Run to start processing.
func New(opts Options) *Engine {
	tracker := opts.Tracker
	if tracker == nil {
		tracker = optimistic.NewTracker(optimistic.DefaultTTL)
	}
	prune := opts.PruneInterval
	if prune <= 0 {
		prune = DefaultPruneInterval
	}
	return &Engine{
		pager:    opts.Pager,
		seen:     opts.Seen,
		tracker:  tracker,
		metrics:  opts.Metrics,
		log:      debug.Component("reconcile"),
		prune:    prune,
		tasks:    make(chan func(), 256),
		stopped:  make(chan struct{}),
		scope:    opts.Scope,
		criteria: opts.Criteria,
		settings: opts.Settings,
		user:     opts.User,
	}
}

// Run processes tasks until ctx is cancelled. It waits for outstanding seen
// acknowledgements before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer e.acks.Wait()
	defer close(e.stopped)

	ticker := time.NewTicker(e.prune)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-e.tasks:
			task()
		case <-ticker.C:
			if e.tracker.Prune() > 0 {
				e.refresh()
			}
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case e.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// post queues fn without waiting.
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.stopped:
	}
}

type loadRequest struct {
	gen    uint64
	scope  api.Scope
	params api.ListConversationsParams
	cursor api.Cursor
	skip   bool
	err    error
}

// LoadPage fetches a page and merges it. Initial and refresh replace the
// collection; LoadMore appends and is a no-op without a forward cursor.
// Events arriving meanwhile are queued and replayed afterwards. A failed load
// leaves the collection untouched and returns the error.
func (e *Engine) LoadPage(ctx context.Context, mode LoadMode) error {
	var req loadRequest
	err := e.do(ctx, func() {
		if e.scope.IsZero() {
			req.err = ErrNoScope
			return
		}
		if mode == LoadMore {
			if e.cursor.AfterCursor == "" {
				req.skip = true
				return
			}
			req.cursor = api.Cursor{AfterCursor: e.cursor.AfterCursor}
		}
		req.gen = e.gen
		req.scope = e.scope
		req.params = e.criteria.Params(e.scope)
		e.loading++
	})
	if err != nil {
		return err
	}
	if req.err != nil || req.skip {
		return req.err
	}

	page, fetchErr := e.pager.FetchPage(ctx, req.scope.Key(), req.params, req.cursor)

	var result error
	// The load must settle on the loop even if ctx is done, or queued
	// events would never be replayed.
	err = e.do(context.WithoutCancel(ctx), func() {
		e.loading--
		defer func() {
			if e.loading == 0 {
				e.flush()
			}
		}()

		switch {
		case req.gen != e.gen || fetch.IsStale(fetchErr):
			e.metrics.Load(mode.String(), "stale")
			e.log.Debug("discarding stale page", "scope", req.scope.Key(), "mode", mode.String())
			return
		case fetchErr != nil:
			e.metrics.Load(mode.String(), "error")
			result = fetchErr
			return
		}

		if mode == LoadMore {
			e.items = mergePage(e.items, page.Data)
		} else {
			e.items = mergePage(nil, page.Data)
		}
		e.cursor.AfterCursor = page.Cursor.AfterCursor
		e.metrics.Load(mode.String(), "ok")
		e.refresh()
	})
	if err != nil {
		return err
	}
	return result
}

// ApplyEvent applies one realtime item and waits for it to be processed.
func (e *Engine) ApplyEvent(ctx context.Context, delta api.ConversationDelta, kind EventKind) error {
	return e.do(ctx, func() { e.receive(delta, kind) })
}

// Attach subscribes the engine to the conversation topics of src and joins
// the current scope. Scope changes are joined on src from then on.
func (e *Engine) Attach(ctx context.Context, src EventSource) error {
	src.Subscribe(channel.TopicConversation, e.handler(Upsert))
	src.Subscribe(channel.TopicUpdateConversation, e.handler(Replace))

	var scope api.Scope
	if err := e.do(ctx, func() {
		e.source = src
		scope = e.scope
	}); err != nil {
		return err
	}
	if !scope.IsZero() {
		src.JoinScope(ctx, scope)
	}
	return nil
}

func (e *Engine) handler(kind EventKind) channel.Handler {
	return func(ev channel.Event) {
		delta, err := api.ParseConversationDelta(ev.Data)
		if err != nil {
			e.metrics.Event(kind.String(), metrics.OutcomeInvalid)
			e.log.Debug("ignoring malformed event", "topic", string(ev.Topic), "error", err)
			return
		}
		e.post(func() { e.receive(delta, kind) })
	}
}

func (e *Engine) receive(delta api.ConversationDelta, kind EventKind) {
	if e.loading > 0 {
		e.queue = append(e.queue, queuedEvent{delta: delta, kind: kind})
		e.metrics.Event(kind.String(), metrics.OutcomeBuffered)
		return
	}
	if e.apply(delta, kind) {
		e.refresh()
	}
}

// flush replays queued events in arrival order.
func (e *Engine) flush() {
	if len(e.queue) == 0 {
		return
	}
	queued := e.queue
	e.queue = nil

	changed := false
	for _, q := range queued {
		if e.apply(q.delta, q.kind) {
			changed = true
		}
	}
	if changed {
		e.refresh()
	}
}

// apply merges or inserts one item and reports whether the collection
// changed. It does not sort.
func (e *Engine) apply(delta api.ConversationDelta, kind EventKind) bool {
	idx := e.indexOf(delta.ID)

	base := api.Conversation{}
	if idx >= 0 {
		base = e.items[idx]
	}
	merged, err := delta.MergeInto(base)
	if err != nil {
		e.metrics.Event(kind.String(), metrics.OutcomeInvalid)
		e.log.Debug("ignoring unmergeable event", "conversation", delta.ID, "error", err)
		return false
	}

	if kind == Upsert && merged.GlobalGroupID != "" {
		for _, c := range e.items {
			if c.GlobalGroupID == merged.GlobalGroupID && c.ID != merged.ID && c.PageID != merged.PageID {
				e.metrics.Event(kind.String(), metrics.OutcomeDroppedGroup)
				return false
			}
		}
	}
	if !e.scope.Contains(merged.PageID) {
		e.metrics.Event(kind.String(), metrics.OutcomeDroppedScope)
		return false
	}

	if idx >= 0 {
		if kind == Upsert && merged.ID == e.active &&
			((merged.Unread && !base.Unread) || merged.UnreadCount > base.UnreadCount) {
			merged.Unread = false
			merged.UnreadCount = 0
			e.markSeen(merged)
		}
		e.items[idx] = merged
		e.metrics.Event(kind.String(), metrics.OutcomeApplied)
		return true
	}

	if !indexGroups(e.items).admit(merged) {
		e.metrics.Event(kind.String(), metrics.OutcomeDroppedGroup)
		return false
	}
	if ok, reason := visibility.Evaluate(merged, e.criteria, e.settings, e.user); !ok {
		e.metrics.Event(kind.String(), metrics.OutcomeFiltered)
		e.log.Debug("event filtered out", "conversation", merged.ID, "reason", string(reason))
		return false
	}
	e.items = slices.Insert(e.items, 0, merged)
	e.metrics.Event(kind.String(), metrics.OutcomeInserted)
	return true
}

// refresh sorts the collection, reconciles and overlays pending intents,
// sorts again and publishes.
func (e *Engine) refresh() {
	byUnread := e.criteria.SortByUnread
	sortConversations(e.items, byUnread)
	e.items = dedupByID(e.items)

	e.tracker.Reconcile(e.items)
	view := e.tracker.Apply(e.items)
	sortConversations(view, byUnread)
	e.view = view

	e.metrics.SetPending(e.tracker.Len())
	e.metrics.SetConversations(len(view))
	for _, fn := range e.subscribers {
		fn(slices.Clone(view))
	}
}

func (e *Engine) markSeen(c api.Conversation) {
	if e.seen == nil {
		return
	}
	req := api.SeenRequest{
		FeedID:       c.FeedID,
		PageID:       c.PageID,
		ScopedUserID: c.ScopedUserID,
		Unread:       false,
	}
	e.acks.Add(1)
	go func() {
		defer e.acks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), seenTimeout)
		defer cancel()
		_, err := e.seen.Seen(ctx, req)
		e.metrics.SeenAck(err)
		if err != nil {
			e.log.Warn("seen acknowledgement failed", "conversation", c.ID, "error", err)
		}
	}()
}

func (e *Engine) indexOf(id string) int {
	return slices.IndexFunc(e.items, func(c api.Conversation) bool { return c.ID == id })
}

// Select opens a thread: it becomes the active conversation, its unread
// state is cleared and a seen acknowledgement is sent. An empty id closes
// the active thread.
func (e *Engine) Select(ctx context.Context, id string) error {
	var result error
	err := e.do(ctx, func() {
		if id == "" {
			e.active = ""
			return
		}
		if id == e.active {
			return
		}
		idx := e.indexOf(id)
		if idx < 0 {
			result = ErrUnknownConversation
			return
		}
		e.active = id
		c := e.items[idx]
		c.Unread = false
		c.UnreadCount = 0
		e.items[idx] = c
		e.markSeen(c)
		e.refresh()
	})
	if err != nil {
		return err
	}
	return result
}

// Active returns the open conversation as currently displayed.
func (e *Engine) Active(ctx context.Context) (api.Conversation, bool, error) {
	var (
		conv  api.Conversation
		found bool
	)
	err := e.do(ctx, func() {
		if e.active == "" {
			return
		}
		i := slices.IndexFunc(e.view, func(c api.Conversation) bool { return c.ID == e.active })
		if i >= 0 {
			conv, found = e.view[i], true
		}
	})
	return conv, found, err
}

// SetCriteria replaces the filter. In-flight loads for the old filter are
// discarded when they settle; callers reload afterwards.
func (e *Engine) SetCriteria(ctx context.Context, c visibility.Criteria) error {
	return e.do(ctx, func() {
		e.gen++
		e.criteria = c
		e.refresh()
	})
}

// SetScope switches to another page or page group. The collection, cursor,
// queue and open thread are reset, and late results for the old scope are
// discarded. The new scope is joined on the attached event source.
func (e *Engine) SetScope(ctx context.Context, scope api.Scope) error {
	var (
		src     EventSource
		changed bool
	)
	err := e.do(ctx, func() {
		if scope.Equal(e.scope) {
			return
		}
		changed = true
		e.gen++
		e.scope = scope
		e.items = nil
		e.cursor = api.Cursor{}
		e.queue = nil
		e.active = ""
		src = e.source
		e.refresh()
	})
	if err != nil {
		return err
	}
	if changed && src != nil && !scope.IsZero() {
		src.JoinScope(ctx, scope)
	}
	return nil
}

// SetSettings replaces the assignment settings and acting user used to
// admit new conversations.
func (e *Engine) SetSettings(ctx context.Context, s *visibility.AssignmentSettings, u *visibility.User) error {
	return e.do(ctx, func() {
		e.settings = s
		e.user = u
	})
}

// Record registers an optimistic intent and republishes the overlaid list.
func (e *Engine) Record(ctx context.Context, intent optimistic.Intent) error {
	return e.do(ctx, func() {
		e.tracker.Record(intent)
		e.refresh()
	})
}

// Withdraw takes back a recorded intent whose request failed and
// republishes the list.
func (e *Engine) Withdraw(ctx context.Context, intent optimistic.Intent) error {
	return e.do(ctx, func() {
		e.tracker.Withdraw(intent)
		e.refresh()
	})
}

// Seed installs a previously cached list while no page has been loaded yet.
// It is ignored once the collection is non-empty.
func (e *Engine) Seed(ctx context.Context, list []api.Conversation) error {
	return e.do(ctx, func() {
		if len(e.items) > 0 || len(list) == 0 {
			return
		}
		kept := make([]api.Conversation, 0, len(list))
		for _, c := range list {
			if e.scope.Contains(c.PageID) {
				kept = append(kept, c.Clone())
			}
		}
		e.items = mergePage(nil, kept)
		e.refresh()
	})
}

// Snapshot returns the current ordered list with pending intents applied.
func (e *Engine) Snapshot(ctx context.Context) ([]api.Conversation, error) {
	var out []api.Conversation
	err := e.do(ctx, func() {
		out = slices.Clone(e.view)
	})
	return out, err
}

// Cursor returns the forward pagination cursor.
func (e *Engine) Cursor(ctx context.Context) (api.Cursor, error) {
	var c api.Cursor
	err := e.do(ctx, func() { c = e.cursor })
	return c, err
}

// Subscribe registers fn to receive every published list. fn is called on
// the engine goroutine, first with the current list, and must not call back
// into the engine.
func (e *Engine) Subscribe(ctx context.Context, fn func([]api.Conversation)) error {
	return e.do(ctx, func() {
		e.subscribers = append(e.subscribers, fn)
		fn(slices.Clone(e.view))
	})
}
