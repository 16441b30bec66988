// Package update checks whether a newer inbox-cli release is published.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/socialinbox/inbox-cli/internal/debug"
)

const (
	// DefaultReleasesURL is the latest-release endpoint of the project.
	DefaultReleasesURL = "https://api.github.com/repos/socialinbox/inbox-cli/releases/latest"
	CheckTimeout       = 5 * time.Second

	envReleasesURL = "INBOX_RELEASES_URL"
	envNoUpdate    = "INBOX_NO_UPDATE_CHECK"
)

// Release is the subset of the release payload the check reads.
type Release struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Prerelease bool   `json:"prerelease"`
}

// CheckResult describes the installed and latest versions.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateURL       string
	UpdateAvailable bool
}

// ReleasesURL returns INBOX_RELEASES_URL or the default endpoint.
func ReleasesURL() string {
	if v := strings.TrimSpace(os.Getenv(envReleasesURL)); v != "" {
		return v
	}
	return DefaultReleasesURL
}

// CheckForUpdate compares currentVersion with the latest release.
// It returns nil when the check is disabled, the build is a dev build, or
// the lookup fails; it never blocks the CLI for longer than CheckTimeout.
func CheckForUpdate(ctx context.Context, currentVersion string) *CheckResult {
	if currentVersion == "dev" || currentVersion == "" || os.Getenv(envNoUpdate) != "" {
		return nil
	}
	result, err := Check(ctx, http.DefaultClient, ReleasesURL(), currentVersion)
	if err != nil {
		debug.Component("update").Debug("update check failed", "error", err)
		return nil
	}
	return result
}

// Check fetches the release at url and compares it with currentVersion.
// Prereleases never count as an update.
func Check(ctx context.Context, client *http.Client, url, currentVersion string) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	current := normalizeVersion(currentVersion)
	latest := normalizeVersion(release.TagName)

	result := &CheckResult{
		CurrentVersion: currentVersion,
		LatestVersion:  strings.TrimPrefix(release.TagName, "v"),
		UpdateURL:      release.HTMLURL,
	}
	if !release.Prerelease && semver.IsValid(current) && semver.IsValid(latest) {
		result.UpdateAvailable = semver.Compare(latest, current) > 0
	}
	return result, nil
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
