package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/coder/websocket"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/config"
	"github.com/socialinbox/inbox-cli/internal/outfmt"
)

// syncBuffer is a bytes.Buffer safe for writers on other goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCmd executes the CLI with captured streams.
func runCmd(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut syncBuffer
	ctx := outfmt.WithIO(context.Background(), &outfmt.IO{
		Out:    &out,
		ErrOut: &errOut,
		In:     strings.NewReader(stdin),
	})
	err = Execute(ctx, args)
	return out.String(), errOut.String(), err
}

func withPersistentKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	cleanup := config.SetOpenKeyring(func(cfg keyring.Config) (keyring.Keyring, error) {
		return ring, nil
	})
	t.Cleanup(cleanup)
}

// withAccount points the CLI at the fake servers through the environment.
func withAccount(t *testing.T, apiURL, socketURL string) {
	t.Helper()
	t.Setenv("INBOX_API_URL", apiURL)
	if socketURL == "" {
		socketURL = "ws://127.0.0.1:1/socket"
	}
	t.Setenv("INBOX_SOCKET_URL", socketURL)
	t.Setenv("INBOX_TOKEN", "test-token-1234")
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("INBOX_MAX_TRANSIENT_RETRIES", "0")
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeAPI serves the REST endpoints the CLI talks to.
type fakeAPI struct {
	*httptest.Server

	mu            sync.Mutex
	conversations []api.Conversation
	messages      []api.Message
	comments      []api.Comment
	failIDs       map[string]bool
	requests      []recordedRequest

	// listed is closed once the first conversation page was requested.
	listed     chan struct{}
	listedOnce sync.Once
	// updated is closed once the first bulk update was answered.
	updated     chan struct{}
	updatedOnce sync.Once
}

func newFakeAPI(t *testing.T, conversations ...api.Conversation) *fakeAPI {
	t.Helper()
	f := &fakeAPI{conversations: conversations, failIDs: map[string]bool{}, listed: make(chan struct{}), updated: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversation", func(w http.ResponseWriter, _ *http.Request) {
		f.listedOnce.Do(func() { close(f.listed) })
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, api.Page[api.Conversation]{Data: f.conversations})
	})
	mux.HandleFunc("PUT /conversation/bulk-update", func(w http.ResponseWriter, r *http.Request) {
		var req api.BulkUpdateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.ConversationIDs {
			if f.shouldFail(id) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "rejected " + id})
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
		f.updatedOnce.Do(func() { close(f.updated) })
	})
	mux.HandleFunc("POST /conversation/assign", func(w http.ResponseWriter, r *http.Request) {
		var req api.AssignRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if f.shouldFail(req.ID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "rejected"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /conversation/block", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /conversation/seen", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": nil})
	})
	mux.HandleFunc("GET /message", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, api.Page[api.Message]{Data: f.messages})
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		var req api.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, map[string]any{"data": api.Message{
			ID:           "m-sent",
			PageID:       q.Get("pageId"),
			ScopedUserID: q.Get("scopedUserId"),
			SenderID:     q.Get("pageId"),
			Text:         req.Text,
			Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}})
	})
	mux.HandleFunc("GET /post/{post}/comments/{user}", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, api.Page[api.Comment]{Data: f.comments})
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAPI) shouldFail(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failIDs[id]
}

func (f *fakeAPI) requestsTo(method, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeSocket is a realtime server: it greets with a welcome frame, waits for
// the client to join and then sends frames. With ready set, frames wait
// until ready is closed.
type fakeSocket struct {
	*httptest.Server
	joined chan string
}

func newFakeSocket(t *testing.T, ready <-chan struct{}, frames ...string) *fakeSocket {
	t.Helper()
	s := &fakeSocket{joined: make(chan string, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"event":"welcome","data":{"version":"v1.0.0"}}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(data, &f) != nil || f.Event != "join" {
				continue
			}
			select {
			case s.joined <- string(data):
			default:
			}
			if ready != nil {
				select {
				case <-ready:
				case <-ctx.Done():
					return
				}
			}
			for _, frame := range frames {
				if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeSocket) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func eventFrame(t *testing.T, event string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	frame, err := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(data)})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return string(frame)
}

func testConversation(id, pageID, name string, updated time.Time) api.Conversation {
	return api.Conversation{
		ID:           id,
		PageID:       pageID,
		ScopedUserID: "u-" + id,
		Type:         api.ConversationTypeInbox,
		From:         api.Sender{ID: "u-" + id, Name: name},
		Snippet:      "hello from " + name,
		AssignTo:     []string{},
		Tags:         []string{},
		CreatedAt:    updated,
		UpdatedAt:    updated,
	}
}
