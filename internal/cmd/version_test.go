package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	out, stderr, err := runCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "inbox-cli version dev\n", out)
	assert.Empty(t, stderr)
}

func TestVersion_UpdateNotice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9","html_url":"https://example.com/release"}`))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("INBOX_RELEASES_URL", srv.URL)
	t.Setenv("INBOX_NO_UPDATE_CHECK", "")

	orig := version
	version = "1.0.0"
	t.Cleanup(func() { version = orig })

	out, stderr, err := runCmd(t, "", "v")
	require.NoError(t, err)
	assert.Equal(t, "inbox-cli version 1.0.0\n", out)
	assert.Contains(t, stderr, "Update available: 1.0.0 -> 9.9.9")
	assert.Contains(t, stderr, "Download: https://example.com/release")
}
