package config

import (
	"strings"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
)

// ClientConfig contains resolved connection settings.
type ClientConfig struct {
	APIURL    string
	SocketURL string
	Token     string
	UserID    string
}

// Overrides are command-line values that take precedence over the stored
// account.
type Overrides struct {
	APIURL    string
	SocketURL string
	Token     string
}

// ResolveClientConfig loads the active account and applies overrides.
func ResolveClientConfig(o Overrides) (ClientConfig, error) {
	account, err := LoadAccount()
	if err != nil && (o.APIURL == "" || o.SocketURL == "" || o.Token == "") {
		return ClientConfig{}, err
	}
	if o.APIURL != "" {
		account.APIURL = strings.TrimSuffix(o.APIURL, "/")
	}
	if o.SocketURL != "" {
		account.SocketURL = o.SocketURL
	}
	if o.Token != "" {
		account.Token = o.Token
	}
	if err := account.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{
		APIURL:    account.APIURL,
		SocketURL: account.SocketURL,
		Token:     account.Token,
		UserID:    account.UserID,
	}, nil
}

// EngineSettings are the env-tunable timings of the sync engine.
type EngineSettings struct {
	IntentTTL      time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReconnectDelay time.Duration
	Concurrency    int
}

// LoadEngineSettings reads engine timings from the environment:
//   - INBOX_INTENT_TTL: optimistic intent lifetime (default "5s")
//   - INBOX_PING_INTERVAL: heartbeat interval (default "60s")
//   - INBOX_PONG_TIMEOUT: heartbeat answer deadline (default "60s")
//   - INBOX_RECONNECT_DELAY: delay between reconnect attempts (default "3s")
//   - INBOX_CONCURRENCY: parallel requests of bulk actions (default 5)
func LoadEngineSettings() EngineSettings {
	return EngineSettings{
		IntentTTL:      api.GetEnvDuration("INBOX_INTENT_TTL", 5*time.Second),
		PingInterval:   api.GetEnvDuration("INBOX_PING_INTERVAL", 60*time.Second),
		PongTimeout:    api.GetEnvDuration("INBOX_PONG_TIMEOUT", 60*time.Second),
		ReconnectDelay: api.GetEnvDuration("INBOX_RECONNECT_DELAY", 3*time.Second),
		Concurrency:    api.GetEnvInt("INBOX_CONCURRENCY", 5),
	}
}
