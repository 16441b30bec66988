// Package channel implements the realtime event channel: a websocket link
// carrying JSON frames, with one handler per topic, scope joins, heartbeat
// liveness detection and fixed-delay reconnection.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/mod/semver"

	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/debug"
)

// Topic names one server-side event stream.
type Topic string

const (
	TopicConversation         Topic = "conversation"
	TopicUpdateConversation   Topic = "updateConversation"
	TopicMessage              Topic = "message"
	TopicComment              Topic = "comment"
	TopicPage                 Topic = "page"
	TopicPong                 Topic = "pong"
	TopicScopedUser           Topic = "scopedUser"
	TopicUnreadConversations  Topic = "unreadConversations"
	TopicUserReadConversation Topic = "userReadConversation"
	TopicUserStatus           Topic = "userStatus"
)

// Topics lists every topic the server may deliver.
var Topics = []Topic{
	TopicConversation,
	TopicUpdateConversation,
	TopicMessage,
	TopicComment,
	TopicPage,
	TopicPong,
	TopicScopedUser,
	TopicUnreadConversations,
	TopicUserReadConversation,
	TopicUserStatus,
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// State is the connection state reported to OnStateChange.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Event is one delivered frame: its topic and raw payload.
type Event struct {
	Topic Topic
	Data  json.RawMessage
}

// Handler receives events for a single topic. Handlers run on the channel's
// read goroutine and must not block.
type Handler func(Event)

// Defaults for the liveness and retry timers.
var (
	DefaultPingInterval      = 60 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultJoinRetryInterval = time.Second
	DefaultJoinMaxAttempts   = 10
)

// MinProtocolVersion is the oldest server protocol this client speaks.
const MinProtocolVersion = "v1.0.0"

// maxReadSize caps a single frame at 1 MB.
const maxReadSize = 1 << 20

// ErrPongTimeout is the cause recorded when a ping goes unanswered.
var ErrPongTimeout = errors.New("pong timeout: no reply to ping")

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("channel closed")

// IncompatibleProtocolError is returned by Connect when the server announces
// a protocol older than MinProtocolVersion.
type IncompatibleProtocolError struct {
	Version string
}

func (e *IncompatibleProtocolError) Error() string {
	return fmt.Sprintf("server protocol %s is older than %s", e.Version, MinProtocolVersion)
}

// TransportError describes a connection failure. It is logged and surfaced
// only as a state transition, never to topic handlers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// frame is the wire format in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type welcomeData struct {
	Version string `json:"version"`
}

type joinData struct {
	Room    string   `json:"room"`
	PageID  string   `json:"pageId,omitempty"`
	PageIDs []string `json:"pageIds,omitempty"`
}

type pingData struct {
	Time int64 `json:"time"`
}

// Options configures a Channel. Zero durations fall back to the defaults.
type Options struct {
	URL               string
	Token             string
	PingInterval      time.Duration
	PongTimeout       time.Duration
	ReconnectDelay    time.Duration
	JoinRetryInterval time.Duration
	JoinMaxAttempts   int
	HTTPClient        *http.Client
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.JoinRetryInterval <= 0 {
		o.JoinRetryInterval = DefaultJoinRetryInterval
	}
	if o.JoinMaxAttempts <= 0 {
		o.JoinMaxAttempts = DefaultJoinMaxAttempts
	}
	return o
}

// dial is a pending connection attempt shared by concurrent Connect callers.
type dial struct {
	done chan struct{}
	err  error
}

// Channel is one realtime session. Construct it once per application session
// with New and share it by reference.
type Channel struct {
	opts Options
	log  *slog.Logger

	// ctx bounds the lifetime of every connection; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	connCancel   context.CancelFunc
	pending      *dial
	handlers     map[Topic]Handler
	onState      func(State)
	scope        api.Scope
	hasScope     bool
	joined       string // scope key joined on the current connection
	pongDeadline *time.Timer
	reconnecting bool
	closed       bool
	wg           sync.WaitGroup
}

// New creates a disconnected channel.
func New(opts Options) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		opts:     opts.withDefaults(),
		log:      debug.Component("channel"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[Topic]Handler),
	}
}

// Subscribe registers h for topic, replacing any previous handler.
// A nil handler removes the subscription.
func (c *Channel) Subscribe(topic Topic, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, topic)
		return
	}
	c.handlers[topic] = h
}

// OnStateChange registers the connection-state callback, replacing any
// previous one.
func (c *Channel) OnStateChange(cb func(State)) {
	c.mu.Lock()
	c.onState = cb
	c.mu.Unlock()
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect establishes the link if it is not already up. Concurrent callers
// share one pending dial; ctx bounds only the handshake.
//
// A transport failure is not returned: the channel reports StateDisconnected
// and keeps dialing every ReconnectDelay until it connects or is closed.
// Connect returns ErrClosed, an IncompatibleProtocolError, a rejected
// handshake, or ctx's error.
func (c *Channel) Connect(ctx context.Context) error {
	err := c.connect(ctx)
	var te *TransportError
	if err == nil || !errors.As(err, &te) || ctx.Err() != nil {
		return err
	}
	c.log.Warn("connect failed", "error", err, "retry_in", c.opts.ReconnectDelay)
	c.notify(StateDisconnected)
	c.scheduleReconnect()
	return nil
}

func (c *Channel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.reconnecting = false
		c.mu.Unlock()
		return nil
	}
	if d := c.pending; d != nil {
		c.mu.Unlock()
		select {
		case <-d.done:
			return d.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d := &dial{done: make(chan struct{})}
	c.pending = d
	c.mu.Unlock()

	conn, err := c.handshake(ctx)

	c.mu.Lock()
	c.pending = nil
	if err == nil && c.closed {
		_ = conn.CloseNow()
		err = ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		d.err = err
		close(d.done)
		return err
	}
	connCtx, connCancel := context.WithCancel(c.ctx)
	c.conn = conn
	c.connCancel = connCancel
	c.joined = ""
	c.reconnecting = false
	cb := c.onState
	c.wg.Add(2)
	c.mu.Unlock()

	d.err = nil
	close(d.done)

	c.log.Debug("connected", "url", c.opts.URL)
	if cb != nil {
		cb(StateConnected)
	}
	c.rejoin(connCtx, conn)

	go c.readLoop(connCtx, conn)
	go c.heartbeat(connCtx, conn)
	return nil
}

// handshake dials and validates the welcome frame.
func (c *Channel) handshake(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: c.opts.HTTPClient,
	})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxReadSize)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, &TransportError{Op: "read welcome", Err: err}
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("parse welcome: %w", err)
	}
	if f.Event != "welcome" {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("expected welcome, got %q", f.Event)
	}
	if err := checkProtocol(f.Data); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "incompatible protocol")
		return nil, err
	}
	return conn, nil
}

// checkProtocol accepts a missing or unparseable version.
func checkProtocol(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var w welcomeData
	if err := json.Unmarshal(data, &w); err != nil || w.Version == "" {
		return nil
	}
	v := w.Version
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return nil
	}
	if semver.Compare(v, MinProtocolVersion) < 0 {
		return &IncompatibleProtocolError{Version: w.Version}
	}
	return nil
}

// Emit sends one event frame on the current connection.
func (c *Channel) Emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "emit " + event, Err: errors.New("not connected")}
	}
	return c.write(ctx, conn, event, data)
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	msg, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return &TransportError{Op: "write " + event, Err: err}
	}
	return nil
}

// JoinScope announces interest in scope. The scope is remembered and joined
// again on every reconnect. When the channel is not connected, the join is
// retried every JoinRetryInterval up to JoinMaxAttempts times, then dropped.
func (c *Channel) JoinScope(ctx context.Context, scope api.Scope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.scope = scope
	c.hasScope = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && c.join(ctx, conn, scope) == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		c.retryJoin(ctx, scope)
	}()
}

func (c *Channel) retryJoin(ctx context.Context, scope api.Scope) {
	ticker := time.NewTicker(c.opts.JoinRetryInterval)
	defer ticker.Stop()
	for attempt := 1; attempt <= c.opts.JoinMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		conn := c.conn
		current := c.hasScope && c.scope.Equal(scope)
		done := c.joined == scope.Key()
		c.mu.Unlock()

		if !current || (conn != nil && done) {
			return
		}
		if conn != nil && c.join(ctx, conn, scope) == nil {
			return
		}
	}
	c.log.Debug("join abandoned", "scope", scope.Key(), "attempts", c.opts.JoinMaxAttempts)
}

func (c *Channel) join(ctx context.Context, conn *websocket.Conn, scope api.Scope) error {
	data := joinData{Room: "page", PageID: scope.PageID, PageIDs: scope.PageIDs}
	if err := c.write(ctx, conn, "join", data); err != nil {
		c.log.Debug("join failed", "scope", scope.Key(), "error", err)
		return err
	}
	c.mu.Lock()
	if c.conn == conn {
		c.joined = scope.Key()
	}
	c.mu.Unlock()
	return nil
}

// rejoin joins the remembered scope on a fresh connection.
func (c *Channel) rejoin(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	scope, ok := c.scope, c.hasScope
	c.mu.Unlock()
	if ok {
		_ = c.join(ctx, conn, scope)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.drop(conn, &TransportError{Op: "read", Err: err})
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		topic := Topic(f.Event)
		if topic == TopicPong {
			c.clearPongDeadline()
		}
		if !topic.Valid() {
			continue
		}

		c.mu.Lock()
		h := c.handlers[topic]
		c.mu.Unlock()
		if h != nil {
			h(Event{Topic: topic, Data: f.Data})
		}
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.write(ctx, conn, "ping", pingData{Time: now.UnixMilli()}); err != nil {
				c.drop(conn, err)
				return
			}
			c.armPongDeadline(conn)
		}
	}
}

func (c *Channel) armPongDeadline(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || c.pongDeadline != nil {
		return
	}
	c.pongDeadline = time.AfterFunc(c.opts.PongTimeout, func() {
		c.drop(conn, &TransportError{Op: "heartbeat", Err: ErrPongTimeout})
	})
}

func (c *Channel) clearPongDeadline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pongDeadline != nil {
		c.pongDeadline.Stop()
		c.pongDeadline = nil
	}
}

// drop tears down conn if it is still current, notifies the state callback
// and schedules a reconnect unless the channel is closed.
func (c *Channel) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.joined = ""
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.pongDeadline != nil {
		c.pongDeadline.Stop()
		c.pongDeadline = nil
	}
	cb := c.onState
	closed := c.closed
	c.mu.Unlock()

	_ = conn.CloseNow()
	if !closed {
		c.log.Warn("connection lost", "error", cause)
	}
	if cb != nil {
		cb(StateDisconnected)
	}
	c.scheduleReconnect()
}

func (c *Channel) notify(s State) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// scheduleReconnect starts the reconnect loop unless one is already running
// or the channel is closed. connect clears the flag under the same lock that
// installs a new connection, so a connection lost right after it is
// established always schedules another attempt.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnecting {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnect()
}

func (c *Channel) stopReconnecting() {
	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
}

func (c *Channel) reconnect() {
	defer c.wg.Done()

	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.stopReconnecting()
			return
		case <-timer.C:
		}
		err := c.connect(c.ctx)
		if err == nil {
			return
		}
		var incompatible *IncompatibleProtocolError
		if errors.Is(err, ErrClosed) || errors.As(err, &incompatible) {
			if incompatible != nil {
				c.log.Error("giving up reconnect", "error", err)
			}
			c.stopReconnecting()
			return
		}
		c.log.Debug("reconnect failed", "error", err, "retry_in", c.opts.ReconnectDelay)
		timer.Reset(c.opts.ReconnectDelay)
	}
}

// Close stops heartbeating, reconnection and pending joins, and closes the
// connection. It is safe to call more than once but must not be called from
// a Handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
		c.drop(conn, ErrClosed)
	}
	c.cancel()
	c.wg.Wait()
	return err
}
