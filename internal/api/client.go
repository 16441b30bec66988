package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/socialinbox/inbox-cli/internal/debug"
)

const DefaultTimeout = 30 * time.Second

// Client is the inbox REST API client. Its circuit breaker lives as long as
// the client; ResetCircuitBreaker starts it over.
type Client struct {
	BaseURL     string
	Token       string
	HTTP        *http.Client
	UserAgent   string
	RetryConfig RetryConfig
	breaker     *breaker
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	transport := &http.Transport{}
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = base.Clone()
	}
	tlsCfg := &tls.Config{}
	if transport.TLSClientConfig != nil {
		tlsCfg = transport.TLSClientConfig.Clone()
	}
	tlsCfg.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig = tlsCfg

	cfg := DefaultRetryConfig()
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		RetryConfig: cfg,
		HTTP:        &http.Client{Timeout: DefaultTimeout, Transport: transport},
		breaker:     newBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerResetTime),
	}
}

// ResetCircuitBreaker closes the circuit breaker.
func (c *Client) ResetCircuitBreaker() {
	if c.breaker != nil {
		c.breaker.reset()
	}
}

// SetRetryConfig replaces the retry budget and breaker settings.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.RetryConfig = cfg
	if c.breaker != nil {
		c.breaker.configure(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerResetTime)
	}
}

// path joins an endpoint (e.g. "conversation/seen") and an optional query onto BaseURL.
func (c *Client) path(endpoint string, query url.Values) string {
	endpoint = strings.TrimLeft(endpoint, "/")
	u := c.BaseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs an HTTP request and decodes the response
func (c *Client) do(ctx context.Context, method, url string, body any, result any) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	respBody, err := c.executeRequest(ctx, method, url, jsonBody)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	}
	return nil
}

// executeRequest sends the request. Idempotent methods retry 429s, 5xx
// responses and transport failures, all drawn from one retry budget.
func (c *Client) executeRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if c.breaker != nil && !c.breaker.allow() {
		return nil, &CircuitBreakerError{}
	}
	budget := newRetryBudget(c.RetryConfig, method)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, respBody, err := c.send(ctx, method, url, body)
		if err != nil {
			if debug.IsEnabled(ctx) {
				slog.Debug("request failed", "method", method, "url", url, "attempt", attempt, "error", err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				return nil, err
			}
			delay, ok := budget.takeTransient()
			if !ok {
				return nil, err
			}
			if err := wait(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}
		if debug.IsEnabled(ctx) {
			slog.Debug("request complete", "method", method, "url", url, "status", resp.StatusCode, "attempt", attempt, "duration", time.Since(start))
		}

		switch status := resp.StatusCode; {
		case status == http.StatusTooManyRequests:
			delay, ok := budget.takeRateLimit(resp.Header)
			if !ok {
				return nil, &RateLimitError{RetryAfter: delay}
			}
			slog.Info("rate limited, retrying", "delay", delay, "attempt", attempt)
			if err := wait(ctx, delay); err != nil {
				return nil, err
			}
			continue
		case status >= 500:
			if c.breaker != nil {
				c.breaker.failure()
			}
			if delay, ok := budget.takeTransient(); ok {
				slog.Info("server error, retrying", "status", status)
				if err := wait(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
		}

		if resp.StatusCode >= 400 {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(string(respBody)),
				RequestID:  resp.Header.Get("X-Request-Id"),
			}
		}
		if c.breaker != nil {
			c.breaker.success()
		}
		return respBody, nil
	}
}

// send performs one HTTP round trip. Transport failures come back as
// *RequestError.
func (c *Client) send(ctx context.Context, method, url string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, &RequestError{Method: method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, respBody, nil
}

// sanitizeErrorBody extracts a safe error message from an API response
// without echoing arbitrary payload content.
func sanitizeErrorBody(body string) string {
	var errResp struct {
		Error   string `json:"error"`
		Message any    `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err != nil {
		return "API request failed (response body redacted for security)"
	}

	switch msg := errResp.Message.(type) {
	case string:
		if msg != "" {
			return msg
		}
	case []any:
		// validation pipes return a list of messages
		var lines []string
		for _, m := range msg {
			if s, ok := m.(string); ok {
				lines = append(lines, s)
			}
		}
		if len(lines) > 0 {
			sort.Strings(lines)
			return strings.Join(lines, "; ")
		}
	}
	if errResp.Error != "" {
		return errResp.Error
	}
	return "API request failed (response body redacted for security)"
}
