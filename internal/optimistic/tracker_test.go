package optimistic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialinbox/inbox-cli/internal/api"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(5 * time.Second)
	tr.now = clock.now
	return tr, clock
}

func list() []api.Conversation {
	return []api.Conversation{
		{ID: "c1", PageID: "p1", ScopedUserID: "u1", Unread: true, UnreadCount: 3},
		{ID: "c2", PageID: "p1", ScopedUserID: "u2"},
	}
}

func TestApply_OverlaysWithoutMutatingInput(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c2", IsPinned: Bool(true)})

	in := list()
	out := tr.Apply(in)

	assert.True(t, out[1].IsPinned)
	assert.False(t, in[1].IsPinned, "input must not be mutated")
	assert.Equal(t, in[0], out[0])
}

func TestApply_ReadZeroesUnreadCount(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", Unread: Bool(false)})

	out := tr.Apply(list())
	assert.False(t, out[0].Unread)
	assert.Zero(t, out[0].UnreadCount)
}

func TestApply_PinKeepsUnreadCount(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true)})

	out := tr.Apply(list())
	assert.Equal(t, 3, out[0].UnreadCount)
}

func TestApply_MatchesByPageAndScopedUser(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{PageID: "p1", ScopedUserID: "u2", IsBlocked: Bool(true)})

	out := tr.Apply(list())
	assert.True(t, out[1].IsBlocked)
	assert.False(t, out[0].IsBlocked)
}

func TestRecord_LastIntentPerFieldWins(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true), Unread: Bool(false)})
	tr.Record(Intent{ID: "c1", IsPinned: Bool(false)})
	tr.Record(Intent{PageID: "p1", ScopedUserID: "u1", AssignTo: []string{"staff"}})

	require.Equal(t, 2, tr.Len(), "page/scoped intent has no id to merge on yet")

	tr2, _ := newTestTracker()
	tr2.Record(Intent{ID: "c1", PageID: "p1", ScopedUserID: "u1", IsPinned: Bool(true), Unread: Bool(false)})
	tr2.Record(Intent{ID: "c1", IsPinned: Bool(false)})
	tr2.Record(Intent{PageID: "p1", ScopedUserID: "u1", AssignTo: []string{"staff"}})
	require.Equal(t, 1, tr2.Len())

	got := tr2.Pending()[0]
	assert.False(t, *got.IsPinned)
	assert.False(t, *got.Unread)
	assert.Equal(t, []string{"staff"}, got.AssignTo)
}

func TestRecord_IgnoresEmptyOrUntargeted(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1"})
	tr.Record(Intent{PageID: "p1", IsPinned: Bool(true)})
	assert.Zero(t, tr.Len())
}

func TestRecord_CopiesAssignees(t *testing.T) {
	tr, _ := newTestTracker()
	who := []string{"a"}
	tr.Record(Intent{ID: "c1", AssignTo: who})
	who[0] = "mutated"
	assert.Equal(t, []string{"a"}, tr.Apply(list())[0].AssignTo)
}

func TestReconcile_StaleEchoKeepsIntent(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c2", IsPinned: Bool(true)})

	stale := list()
	tr.Reconcile(stale)
	require.Equal(t, 1, tr.Len())
	assert.True(t, tr.Apply(stale)[1].IsPinned)

	confirmed := list()
	confirmed[1].IsPinned = true
	tr.Reconcile(confirmed)
	assert.Zero(t, tr.Len())
}

func TestReconcile_ClearsFieldsIndependently(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true), AssignTo: []string{"b", "a"}})

	server := list()
	server[0].AssignTo = []string{"a", "b"}
	tr.Reconcile(server)

	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].AssignTo)
	require.NotNil(t, pending[0].IsPinned)
}

func TestExpiry(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Intent{ID: "c2", IsPinned: Bool(true)})

	clock.t = clock.t.Add(4 * time.Second)
	assert.True(t, tr.Apply(list())[1].IsPinned)

	clock.t = clock.t.Add(2 * time.Second)
	assert.False(t, tr.Apply(list())[1].IsPinned, "expired intent must not mask server state")
	assert.Zero(t, tr.Len())
}

func TestExpiry_RefreshedByRecord(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true)})
	clock.t = clock.t.Add(4 * time.Second)
	tr.Record(Intent{ID: "c1", Unread: Bool(false)})
	clock.t = clock.t.Add(4 * time.Second)

	assert.Equal(t, 0, tr.Prune())
	assert.Equal(t, 1, tr.Len())
}

func TestNewTracker_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewTracker(0).ttl)
}

func TestWithdraw_RemovesFailedFields(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true), Unread: Bool(false)})

	tr.Withdraw(Intent{ID: "c1", IsPinned: Bool(true)})
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].IsPinned)
	require.NotNil(t, pending[0].Unread)

	tr.Withdraw(Intent{ID: "c1", Unread: Bool(false)})
	assert.Zero(t, tr.Len())
}

func TestWithdraw_KeepsNewerValue(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Intent{ID: "c1", IsPinned: Bool(true)})
	tr.Record(Intent{ID: "c1", IsPinned: Bool(false)})

	tr.Withdraw(Intent{ID: "c1", IsPinned: Bool(true)})
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.False(t, *pending[0].IsPinned)
}
