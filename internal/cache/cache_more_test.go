package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialinbox/inbox-cli/internal/api"
)

func TestDefaultDir(t *testing.T) {
	dir, err := DefaultDir()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, "inbox-cli"), dir)
}

func TestIsSnapshotFile(t *testing.T) {
	cases := map[string]bool{
		"conversations_abcdef123456_0123456789ab.json":     true,
		"conversations_ABCDEF123456_0123456789ab.json":     false,
		"settings_abcdef123456_0123456789ab.json":          false,
		"conversations_abcdef_0123456789ab.json":           false,
		"conversations_abcdef123456_xyz.json":              false,
		"conversations_abcdef123456_0123456789ab.txt":      false,
		"conversations_abcdef123456_0123456789ab.json.tmp": false,
	}
	for name, want := range cases {
		assert.Equal(t, want, isSnapshotFile(name), name)
	}
}

func TestFileStore_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &FileStore{Dir: t.TempDir(), BaseURL: "https://example.com", TTL: time.Minute, now: func() time.Time { return now }}
	ctx := context.Background()
	scope := api.Scope{PageID: "p1"}

	require.NoError(t, s.Save(ctx, scope, []api.Conversation{{ID: "c1"}}))
	now = now.Add(time.Minute)
	_, ok, _ := s.Load(ctx, scope)
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = s.Load(ctx, scope)
	assert.False(t, ok)
}

func TestClearAll_RemovesOnlySnapshots(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "conversations_abcdef123456_0123456789ab.json")
	keep := filepath.Join(dir, "README.txt")
	nested := filepath.Join(dir, "sub", "conversations_abcdef123456_0123456789ab.json")

	require.NoError(t, os.WriteFile(snapshot, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0o755))
	require.NoError(t, os.WriteFile(nested, []byte("{}"), 0o644))

	n, err := ClearAll(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, snapshot)
	assert.FileExists(t, keep)
	assert.FileExists(t, nested)
}
