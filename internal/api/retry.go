package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Retry defaults. Retries apply to idempotent requests only.
// DefaultMaxTransientRetries caps every retry of one request, 429s included;
// DefaultMaxRateLimitRetries caps the 429 share of it.
const (
	DefaultMaxRateLimitRetries     = 2
	DefaultMaxTransientRetries     = 2
	DefaultRateLimitBaseDelay      = 1 * time.Second
	DefaultServerErrorRetryDelay   = 500 * time.Millisecond
	DefaultCircuitBreakerThreshold = 5
	DefaultCircuitBreakerResetTime = 30 * time.Second
)

// RetryConfig holds the retry budget and circuit breaker settings.
type RetryConfig struct {
	MaxRateLimitRetries     int
	MaxTransientRetries     int
	RateLimitBaseDelay      time.Duration
	ServerErrorRetryDelay   time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerResetTime time.Duration
}

// DefaultRetryConfig reads INBOX_MAX_RATE_LIMIT_RETRIES,
// INBOX_MAX_TRANSIENT_RETRIES, INBOX_RATE_LIMIT_DELAY,
// INBOX_SERVER_ERROR_DELAY, INBOX_CIRCUIT_BREAKER_THRESHOLD and
// INBOX_CIRCUIT_BREAKER_RESET_TIME, falling back to the defaults above.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRateLimitRetries:     GetEnvInt("INBOX_MAX_RATE_LIMIT_RETRIES", DefaultMaxRateLimitRetries),
		MaxTransientRetries:     GetEnvInt("INBOX_MAX_TRANSIENT_RETRIES", DefaultMaxTransientRetries),
		RateLimitBaseDelay:      GetEnvDuration("INBOX_RATE_LIMIT_DELAY", DefaultRateLimitBaseDelay),
		ServerErrorRetryDelay:   GetEnvDuration("INBOX_SERVER_ERROR_DELAY", DefaultServerErrorRetryDelay),
		CircuitBreakerThreshold: GetEnvInt("INBOX_CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold),
		CircuitBreakerResetTime: GetEnvDuration("INBOX_CIRCUIT_BREAKER_RESET_TIME", DefaultCircuitBreakerResetTime),
	}
}

// GetEnvInt returns the integer in key, or def when unset or malformed.
func GetEnvInt(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

// GetEnvDuration returns the duration in key, or def when unset or malformed.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	return envOr(key, def, time.ParseDuration)
}

func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// retryBudget tracks the retries spent on one logical request. Transient
// failures and 429s draw from one total of MaxTransientRetries.
type retryBudget struct {
	cfg         RetryConfig
	idempotent  bool
	rateLimited int
	spent       int
}

func newRetryBudget(cfg RetryConfig, method string) *retryBudget {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return &retryBudget{cfg: cfg, idempotent: true}
	}
	return &retryBudget{cfg: cfg}
}

// takeTransient spends one retry on a 5xx or transport failure. It reports
// false when the request must fail instead.
func (b *retryBudget) takeTransient() (time.Duration, bool) {
	if !b.idempotent || b.spent >= b.cfg.MaxTransientRetries {
		return 0, false
	}
	b.spent++
	return b.cfg.ServerErrorRetryDelay, true
}

// takeRateLimit spends one 429 retry. The delay honours Retry-After and
// otherwise doubles from RateLimitBaseDelay; it is returned even when the
// budget is exhausted so the caller can surface it.
func (b *retryBudget) takeRateLimit(h http.Header) (time.Duration, bool) {
	delay, ok := retryAfter(h, time.Now())
	if !ok {
		delay = b.cfg.RateLimitBaseDelay << b.rateLimited
	}
	if !b.idempotent || b.rateLimited >= b.cfg.MaxRateLimitRetries || b.spent >= b.cfg.MaxTransientRetries {
		return delay, false
	}
	b.rateLimited++
	b.spent++
	return delay, true
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(secs)*time.Second, 0), true
	}
	if t, err := http.ParseTime(value); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerProbing
)

// breaker opens after threshold consecutive server failures. After cooldown
// requests are let through again; one more failure re-opens it at once.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *breaker) configure(threshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threshold, b.cooldown = threshold, cooldown
}

// allow reports whether a request may be sent.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != breakerOpen {
		return true
	}
	cooldown := b.cooldown
	if cooldown <= 0 {
		cooldown = DefaultCircuitBreakerResetTime
	}
	if b.now().Sub(b.openedAt) >= cooldown {
		b.state = breakerProbing
		return true
	}
	return false
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures = breakerClosed, 0
}

// failure records a server failure and reports whether it tripped the
// breaker.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	threshold := b.threshold
	if threshold <= 0 {
		threshold = DefaultCircuitBreakerThreshold
	}
	switch {
	case b.state == breakerProbing, b.state == breakerClosed && b.failures >= threshold:
		b.state, b.openedAt = breakerOpen, b.now()
		return true
	case b.state == breakerOpen:
		b.openedAt = b.now()
	}
	return false
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures, b.openedAt = breakerClosed, 0, time.Time{}
}
