// Package config resolves the inbox account from the environment or from
// keyring-backed profiles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

const (
	serviceName = "inbox-cli"

	envAPIURL          = "INBOX_API_URL"
	envSocketURL       = "INBOX_SOCKET_URL"
	envToken           = "INBOX_TOKEN"
	envUserID          = "INBOX_USER_ID"
	envProfile         = "INBOX_PROFILE"
	envKeyringBackend  = "INBOX_KEYRING_BACKEND"
	envKeyringPassword = "INBOX_KEYRING_PASSWORD"
	envCredentialsDir  = "INBOX_CREDENTIALS_DIR"
)

// ErrNotConfigured is returned when no account is configured.
var ErrNotConfigured = errors.New("inbox not configured - run 'inbox auth login' first")

// Account holds the inbox connection details.
type Account struct {
	APIURL    string `json:"api_url"`
	SocketURL string `json:"socket_url"`
	Token     string `json:"token"`
	// UserID is the operator the token belongs to.
	UserID string `json:"user_id,omitempty"`
}

// Validate checks that both endpoints are absolute URLs and a token is set.
func (a Account) Validate() error {
	if err := checkURL("API URL", a.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("socket URL", a.SocketURL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("token is required")
	}
	return nil
}

func checkURL(label, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", label)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", label, err)
	}
	if u.Host == "" || !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("invalid %s %q: expected %s URL", label, raw, strings.Join(schemes, "/"))
	}
	return nil
}

// LoadAccount resolves the active account: INBOX_API_URL and friends when
// set, otherwise the INBOX_PROFILE profile, otherwise the current profile.
func LoadAccount() (Account, error) {
	if apiURL := envValue(envAPIURL); apiURL != "" {
		return accountFromEnv(apiURL)
	}
	if profile := envValue(envProfile); profile != "" {
		return LoadProfile(profile)
	}
	current, err := CurrentProfile()
	if err != nil {
		return Account{}, err
	}
	return LoadProfile(current)
}

func accountFromEnv(apiURL string) (Account, error) {
	a := Account{
		APIURL:    strings.TrimSuffix(apiURL, "/"),
		SocketURL: envValue(envSocketURL),
		Token:     envValue(envToken),
		UserID:    envValue(envUserID),
	}
	if a.SocketURL == "" || a.Token == "" {
		return Account{}, fmt.Errorf("environment variables %s, %s and %s must all be set", envAPIURL, envSocketURL, envToken)
	}
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// envValue returns the trimmed value of key, or "" when unset or blank.
func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
