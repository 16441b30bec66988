package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePathAndClear(t *testing.T) {
	srv := newFakeAPI(t, testConversation("c1", "p1", "Jane", time.Now()))
	withAccount(t, srv.URL, "")

	_, _, err := runCmd(t, "", "list", "--page", "p1")
	require.NoError(t, err)

	out, _, err := runCmd(t, "", "cache", "path")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	dir := lines[0]
	assert.Equal(t, filepath.Join(os.Getenv("XDG_CACHE_HOME"), "inbox-cli"), dir)
	assert.Contains(t, lines[1], "conversations_")

	out, _, err = runCmd(t, "", "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache cleared: "+dir+" (1 files)")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_RedisSnapshotAndClear(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := newFakeAPI(t, testConversation("c1", "p1", "Jane", time.Now()))
	withAccount(t, srv.URL, "")
	redisURL := "redis://" + mr.Addr()

	_, _, err := runCmd(t, "", "list", "--page", "p1", "--redis-url", redisURL)
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasSuffix(mr.Keys()[0], ":page:p1"))

	_, _, err = runCmd(t, "", "cache", "clear", "--redis-url", redisURL)
	require.Error(t, err)

	out, _, err := runCmd(t, "", "cache", "clear", "--redis-url", redisURL, "--page", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Redis snapshot cleared: page:p1")
	assert.Empty(t, mr.Keys())
}

func TestCacheClear_SingleScope(t *testing.T) {
	srv := newFakeAPI(t, testConversation("c1", "p1", "Jane", time.Now()))
	withAccount(t, srv.URL, "")

	_, _, err := runCmd(t, "", "list", "--page", "p1")
	require.NoError(t, err)
	_, _, err = runCmd(t, "", "list", "--page", "p2")
	require.NoError(t, err)

	out, _, err := runCmd(t, "", "cache", "clear", "--page", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Snapshot cleared: page:p1\n", out)

	entries, err := os.ReadDir(filepath.Join(os.Getenv("XDG_CACHE_HOME"), "inbox-cli"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
