package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialinbox/inbox-cli/internal/api"
)

func TestPin_ByID(t *testing.T) {
	srv := newFakeAPI(t)
	withAccount(t, srv.URL, "")

	out, _, err := runCmd(t, "", "pin", "c1", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "c1\tpinned")
	assert.Contains(t, out, "c2\tpinned")

	reqs := srv.requestsTo("PUT", "/conversation/bulk-update")
	require.Len(t, reqs, 1)
	var body api.BulkUpdateRequest
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &body))
	assert.ElementsMatch(t, []string{"c1", "c2"}, body.ConversationIDs)
	require.NotNil(t, body.IsPinned)
	assert.True(t, *body.IsPinned)
	assert.Nil(t, body.Unread)
}

func TestUnread_ByName(t *testing.T) {
	srv := newFakeAPI(t,
		testConversation("c1", "p1", "Jane Doe", time.Now()),
		testConversation("c2", "p1", "Robert Roe", time.Now()),
	)
	withAccount(t, srv.URL, "")

	out, _, err := runCmd(t, "", "unread", "Jane Doe", "--page", "p1", "-o", "json")
	require.NoError(t, err)

	var rows []struct {
		ID string `json:"id"`
		OK bool   `json:"ok"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ID)
	assert.True(t, rows[0].OK)

	reqs := srv.requestsTo("PUT", "/conversation/bulk-update")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"conversationIds":["c1"],"unread":true}`, reqs[0].Body)
}

func TestRead_UnknownName(t *testing.T) {
	srv := newFakeAPI(t, testConversation("c1", "p1", "Jane Doe", time.Now()))
	withAccount(t, srv.URL, "")

	_, _, err := runCmd(t, "", "read", "Zebulon Quux", "--page", "p1")
	require.Error(t, err)
	assert.Equal(t, exitUsage, ExitCode(err))
	assert.Empty(t, srv.requestsTo("PUT", "/conversation/bulk-update"))
}

func TestAssign_PartialFailure(t *testing.T) {
	srv := newFakeAPI(t)
	srv.failIDs["bad"] = true
	withAccount(t, srv.URL, "")

	out, stderr, err := runCmd(t, "", "assign", "good", "bad", "--group", "g1", "--user", "u1")
	require.Error(t, err)
	assert.Equal(t, exitPartial, ExitCode(err))
	assert.Contains(t, out, "good\tassigned")
	assert.Contains(t, out, "bad\tfailed:")
	assert.Contains(t, stderr, "1 of 2 conversations failed")

	reqs := srv.requestsTo("POST", "/conversation/assign")
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		var body api.AssignRequest
		require.NoError(t, json.Unmarshal([]byte(r.Body), &body))
		require.NotNil(t, body.AssignGroupID)
		assert.Equal(t, "g1", *body.AssignGroupID)
		assert.Equal(t, []string{"u1"}, body.AssignTo)
	}
}

func TestAssign_ClearGroup(t *testing.T) {
	srv := newFakeAPI(t)
	withAccount(t, srv.URL, "")

	_, _, err := runCmd(t, "", "assign", "c1", "--clear")
	require.NoError(t, err)

	reqs := srv.requestsTo("POST", "/conversation/assign")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"_id":"c1","assignGroupId":""}`, reqs[0].Body)
}

func TestAssign_Validation(t *testing.T) {
	srv := newFakeAPI(t)
	withAccount(t, srv.URL, "")

	_, stderr, err := runCmd(t, "", "assign", "c1")
	require.Error(t, err)
	assert.Contains(t, stderr, "--group, --user or --clear is required")

	_, stderr, err = runCmd(t, "", "assign", "c1", "--group", "g1", "--clear")
	require.Error(t, err)
	assert.Contains(t, stderr, "cannot be used together")
	assert.Empty(t, srv.requestsTo("POST", "/conversation/assign"))
}

func TestBlock(t *testing.T) {
	c := testConversation("c1", "p1", "Jane Doe", time.Now())
	c.FeedID = "feed-1"
	srv := newFakeAPI(t, c)
	withAccount(t, srv.URL, "")

	out, _, err := runCmd(t, "", "block", "c1", "--page", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "c1\tblocked")

	reqs := srv.requestsTo("POST", "/conversation/block")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"pageId":"p1","scopedUserId":"u-c1","feedId":"feed-1","block":true}`, reqs[0].Body)
}

func TestBlock_RequiresPage(t *testing.T) {
	_, stderr, err := runCmd(t, "", "unblock", "c1")
	require.Error(t, err)
	assert.Contains(t, stderr, "--page is required")
}

func TestBlock_UnknownConversation(t *testing.T) {
	srv := newFakeAPI(t, testConversation("c1", "p1", "Jane Doe", time.Now()))
	withAccount(t, srv.URL, "")

	_, stderr, err := runCmd(t, "", "block", "c9", "--page", "p1")
	require.Error(t, err)
	assert.Contains(t, stderr, "no match found")
	assert.Equal(t, exitUsage, ExitCode(err))
	assert.Empty(t, srv.requestsTo("POST", "/conversation/block"))
}

func TestAssign_DryRun(t *testing.T) {
	srv := newFakeAPI(t)
	withAccount(t, srv.URL, "")

	out, _, err := runCmd(t, "", "assign", "c1", "c2", "--group", "g1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "[dry-run] would assign 2 conversations")
	assert.Contains(t, out, "group: g1")
	assert.Empty(t, srv.requestsTo("POST", "/conversation/assign"))
}

func TestPin_DryRunJSON(t *testing.T) {
	srv := newFakeAPI(t)
	withAccount(t, srv.URL, "")

	out, _, err := runCmd(t, "", "pin", "c1", "--dr", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"pin","targets":["c1"],"dry_run":true}`, out)
	assert.Empty(t, srv.requestsTo("PUT", "/conversation/bulk-update"))
}
