package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/optimistic"
	"github.com/socialinbox/inbox-cli/internal/reconcile"
)

type recorder struct {
	mu        sync.Mutex
	intents   []optimistic.Intent
	withdrawn []optimistic.Intent
}

func (r *recorder) Record(_ context.Context, intent optimistic.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *recorder) Withdraw(_ context.Context, intent optimistic.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawn = append(r.withdrawn, intent)
	return nil
}

// byID returns the intents still standing: recorded and not withdrawn.
func (r *recorder) byID() map[string]optimistic.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]optimistic.Intent, len(r.intents))
	for _, in := range r.intents {
		out[in.ID] = in
	}
	for _, in := range r.withdrawn {
		delete(out, in.ID)
	}
	return out
}

func (r *recorder) counts() (recorded, withdrawn int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents), len(r.withdrawn)
}

type request struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// apiServer records requests and answers with status (200 when zero).
type apiServer struct {
	mu       sync.Mutex
	requests []request
	status   int
	reply    string
}

func (s *apiServer) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.requests = append(s.requests, request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	status, reply := s.status, s.reply
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"rejected"}`))
		return
	}
	if reply == "" {
		reply = `{}`
	}
	_, _ = w.Write([]byte(reply))
}

func (s *apiServer) all() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func newService(t *testing.T, srv *apiServer, rec IntentRecorder) *Service {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)

	client := api.New(ts.URL, "tok")
	client.SetRetryConfig(api.RetryConfig{
		CircuitBreakerThreshold: 100,
		CircuitBreakerResetTime: time.Minute,
	})
	return New(Options{
		Conversations: client.Conversations(),
		Messages:      client.Messages(),
		Recorder:      rec,
	})
}

func TestPinRecordsIntentOnSuccess(t *testing.T) {
	srv := &apiServer{}
	rec := &recorder{}
	svc := newService(t, srv, rec)

	results := svc.Pin(context.Background(), []string{"c1", "c2", "c1", " "}, true)
	require.NoError(t, Err(results))
	assert.Len(t, results, 2)

	reqs := srv.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/conversation/bulk-update", reqs[0].Path)
	assert.Equal(t, []any{"c1", "c2"}, reqs[0].Body["conversationIds"])
	assert.Equal(t, true, reqs[0].Body["isPinned"])
	assert.NotContains(t, reqs[0].Body, "unread")

	intents := rec.byID()
	require.Len(t, intents, 2)
	assert.True(t, *intents["c1"].IsPinned)
	assert.Nil(t, intents["c1"].Unread)
}

func TestMarkUnreadFailureWithdrawsIntent(t *testing.T) {
	srv := &apiServer{status: http.StatusBadRequest}
	rec := &recorder{}
	svc := newService(t, srv, rec)

	results := svc.MarkUnread(context.Background(), []string{"c1"}, false)
	ok, failed := Counts(results)
	assert.Equal(t, 0, ok)
	assert.Equal(t, 1, failed)

	var apiErr *api.APIError
	require.ErrorAs(t, results[0].Err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Empty(t, rec.byID())

	recorded, withdrawn := rec.counts()
	assert.Equal(t, 1, recorded, "intent is recorded before the request")
	assert.Equal(t, 1, withdrawn)
}

func TestPinRecordsBeforeRequestCompletes(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(ts.Close)
	svc := New(Options{Conversations: api.New(ts.URL, "tok").Conversations(), Recorder: rec})

	done := make(chan []Result, 1)
	go func() { done <- svc.Pin(context.Background(), []string{"c1"}, true) }()

	require.Eventually(t, func() bool {
		recorded, _ := rec.counts()
		return recorded == 1
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, Err(<-done))
	assert.True(t, *rec.byID()["c1"].IsPinned)
}

func TestAssignFailureWithdrawsIntent(t *testing.T) {
	srv := &apiServer{status: http.StatusForbidden}
	rec := &recorder{}
	svc := newService(t, srv, rec)

	group := "team-1"
	require.Error(t, Err(svc.Assign(context.Background(), []string{"c1"}, &group, nil)))
	assert.Empty(t, rec.byID())
	recorded, withdrawn := rec.counts()
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 1, withdrawn)
}

func TestBulkUpdateBatchesLargeSelections(t *testing.T) {
	srv := &apiServer{}
	svc := newService(t, srv, nil)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = "c" + string(rune('A'+i/26)) + string(rune('a'+i%26))
	}
	results := svc.MarkUnread(context.Background(), ids, true)
	require.NoError(t, Err(results))
	require.Len(t, results, 120)
	for i, r := range results {
		assert.Equal(t, ids[i], r.ID)
	}

	var sizes []int
	for _, r := range srv.all() {
		sizes = append(sizes, len(r.Body["conversationIds"].([]any)))
	}
	assert.ElementsMatch(t, []int{50, 50, 20}, sizes)
}

func TestBlockSendsCounterpartAndRecords(t *testing.T) {
	srv := &apiServer{}
	rec := &recorder{}
	svc := newService(t, srv, rec)

	conv := api.Conversation{ID: "c1", PageID: "p1", ScopedUserID: "u1"}
	require.NoError(t, Err(svc.Block(context.Background(), []api.Conversation{conv, conv}, true)))

	reqs := srv.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/conversation/block", reqs[0].Path)
	assert.Equal(t, "p1", reqs[0].Body["pageId"])
	assert.Equal(t, "u1", reqs[0].Body["scopedUserId"])
	assert.Equal(t, true, reqs[0].Body["block"])

	in := rec.byID()["c1"]
	assert.Equal(t, "p1", in.PageID)
	assert.True(t, *in.IsBlocked)
}

func TestAssign(t *testing.T) {
	srv := &apiServer{}
	rec := &recorder{}
	svc := newService(t, srv, rec)

	group := "team-1"
	require.NoError(t, Err(svc.Assign(context.Background(), []string{"c1"}, &group, []string{"op-1"})))

	reqs := srv.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/conversation/assign", reqs[0].Path)
	assert.Equal(t, "c1", reqs[0].Body["_id"])
	assert.Equal(t, "team-1", reqs[0].Body["assignGroupId"])
	assert.Equal(t, []any{"op-1"}, reqs[0].Body["assignTo"])

	in := rec.byID()["c1"]
	assert.Equal(t, "team-1", *in.AssignGroupID)
	assert.Equal(t, []string{"op-1"}, in.AssignTo)
}

func TestCheckBlacklist(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		words []string
		want  string
	}{
		{"no words", "hello", nil, ""},
		{"clean", "hello there", []string{"spam"}, ""},
		{"case insensitive", "Buy SPAM now", []string{"spam"}, "spam"},
		{"first listed wins", "scam and spam", []string{"spam", "scam"}, "spam"},
		{"empty word ignored", "hello", []string{""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBlacklist(tt.text, tt.words)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var blocked *BlockedWordError
			require.ErrorAs(t, err, &blocked)
			assert.Equal(t, tt.want, blocked.Word)
		})
	}
}

func TestSendMessage(t *testing.T) {
	conv := api.Conversation{ID: "c1", PageID: "p1", ScopedUserID: "u1"}

	t.Run("success keeps the local copy", func(t *testing.T) {
		srv := &apiServer{reply: `{"data":{"_id":"m1","pageId":"p1","scopedUserId":"u1","text":"hi"}}`}
		svc := newService(t, srv, nil)
		tl := reconcile.MessageTimeline("u1")

		msg, err := svc.SendMessage(context.Background(), tl, conv, "  hi ", nil)
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.ID)

		reqs := srv.all()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/message", reqs[0].Path)
		assert.Contains(t, reqs[0].Query, "scopedUserId=u1")
		assert.Equal(t, "hi", reqs[0].Body["text"])

		items := tl.Items()
		require.Len(t, items, 1)
		assert.Equal(t, "hi", items[0].Text)
		assert.False(t, items[0].Loading)
	})

	t.Run("failure drops the local copy", func(t *testing.T) {
		srv := &apiServer{status: http.StatusUnprocessableEntity}
		svc := newService(t, srv, nil)
		tl := reconcile.MessageTimeline("u1")

		_, err := svc.SendMessage(context.Background(), tl, conv, "hi", nil)
		require.Error(t, err)
		assert.Empty(t, tl.Items())
	})

	t.Run("blocked word sends nothing", func(t *testing.T) {
		srv := &apiServer{}
		svc := newService(t, srv, nil)
		tl := reconcile.MessageTimeline("u1")

		_, err := svc.SendMessage(context.Background(), tl, conv, "free MONEY", []string{"money"})
		var blocked *BlockedWordError
		require.ErrorAs(t, err, &blocked)
		assert.Empty(t, srv.all())
		assert.Empty(t, tl.Items())
	})

	t.Run("empty text", func(t *testing.T) {
		svc := newService(t, &apiServer{}, nil)
		_, err := svc.SendMessage(context.Background(), nil, conv, "   ", nil)
		assert.Error(t, err)
	})
}
