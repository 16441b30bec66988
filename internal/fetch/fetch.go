// Package fetch issues cursor-paginated page requests and cancels requests
// that a newer request with a different filter has superseded.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/debug"
)

// ErrStaleResponse is returned by a FetchPage call whose request was
// superseded. Callers treat it as a no-op.
var ErrStaleResponse = errors.New("stale response discarded")

// FetchError is a failed page load. The collection it was meant for should be
// left untouched; the caller may retry.
type FetchError struct {
	Key    string
	Cursor api.Cursor
	Err    error
}

func (e *FetchError) Error() string {
	if e.Cursor != (api.Cursor{}) {
		return fmt.Sprintf("fetch %s (after=%q before=%q): %v", e.Key, e.Cursor.AfterCursor, e.Cursor.BeforeCursor, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same request may succeed.
func (e *FetchError) Retryable() bool {
	return api.IsTransient(e.Err)
}

// IsStale reports whether err is a superseded-request result.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleResponse)
}

// PageFunc loads one page for params at cursor.
type PageFunc[P, T any] func(ctx context.Context, params P, cursor api.Cursor) (*api.Page[T], error)

type inflight struct {
	filter     string
	cancel     context.CancelFunc
	superseded bool
}

// Fetcher issues page requests through a PageFunc. At most one filter is live
// per key: a request with a different filter cancels the in-flight one.
// Requests with the same filter (pagination) run side by side.
type Fetcher[P, T any] struct {
	fn PageFunc[P, T]

	mu       sync.Mutex
	inflight map[string][]*inflight
}

// New returns a Fetcher backed by fn.
func New[P, T any](fn PageFunc[P, T]) *Fetcher[P, T] {
	return &Fetcher[P, T]{
		fn:       fn,
		inflight: make(map[string][]*inflight),
	}
}

// FetchPage loads one page. key partitions requests (typically a scope key).
// Transient failures are retried by the api client; anything left is
// returned as a *FetchError. A superseded call returns ErrStaleResponse.
func (f *Fetcher[P, T]) FetchPage(ctx context.Context, key string, params P, cursor api.Cursor) (api.Page[T], error) {
	filter, err := fingerprint(params)
	if err != nil {
		return api.Page[T]{}, &FetchError{Key: key, Cursor: cursor, Err: err}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	call := &inflight{filter: filter, cancel: cancel}
	f.begin(key, call)
	defer f.end(key, call)

	page, err := f.fn(reqCtx, params, cursor)

	f.mu.Lock()
	superseded := call.superseded
	f.mu.Unlock()
	if superseded {
		debug.Component("fetch").Debug("discarding superseded page", "key", key)
		return api.Page[T]{}, ErrStaleResponse
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return api.Page[T]{}, ctxErr
		}
		return api.Page[T]{}, &FetchError{Key: key, Cursor: cursor, Err: err}
	}
	if page == nil {
		return api.Page[T]{Data: []T{}}, nil
	}
	return *page, nil
}

// Cancel supersedes every in-flight request for key.
func (f *Fetcher[P, T]) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.inflight[key] {
		c.superseded = true
		c.cancel()
	}
	delete(f.inflight, key)
}

func (f *Fetcher[P, T]) begin(key string, call *inflight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.inflight[key][:0]
	for _, c := range f.inflight[key] {
		if c.filter != call.filter {
			c.superseded = true
			c.cancel()
			continue
		}
		kept = append(kept, c)
	}
	f.inflight[key] = append(kept, call)
}

func (f *Fetcher[P, T]) end(key string, call *inflight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.inflight[key]
	for i, c := range calls {
		if c == call {
			calls = append(calls[:i], calls[i+1:]...)
			break
		}
	}
	if len(calls) == 0 {
		delete(f.inflight, key)
		return
	}
	f.inflight[key] = calls
}

func fingerprint(params any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}
	return string(data), nil
}

// Conversations binds a fetcher to the conversation list endpoint.
// Leave the cursor fields of params empty; the cursor argument sets them.
func Conversations(svc api.ConversationsService) *Fetcher[api.ListConversationsParams, api.Conversation] {
	return New(func(ctx context.Context, p api.ListConversationsParams, cur api.Cursor) (*api.Page[api.Conversation], error) {
		p.AfterCursor = cur.AfterCursor
		return svc.List(ctx, p)
	})
}

// Messages binds a fetcher to the message list endpoint.
func Messages(svc api.MessagesService) *Fetcher[api.ListMessagesParams, api.Message] {
	return New(func(ctx context.Context, p api.ListMessagesParams, cur api.Cursor) (*api.Page[api.Message], error) {
		p.AfterCursor = cur.AfterCursor
		p.BeforeCursor = cur.BeforeCursor
		return svc.List(ctx, p)
	})
}

// Comments binds a fetcher to a post's comment list endpoint.
func Comments(svc api.CommentsService) *Fetcher[api.ListCommentsParams, api.Comment] {
	return New(func(ctx context.Context, p api.ListCommentsParams, cur api.Cursor) (*api.Page[api.Comment], error) {
		p.AfterCursor = cur.AfterCursor
		p.BeforeCursor = cur.BeforeCursor
		return svc.List(ctx, p)
	})
}
