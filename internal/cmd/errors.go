package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/pflag"

	"github.com/socialinbox/inbox-cli/internal/actions"
	"github.com/socialinbox/inbox-cli/internal/api"
	"github.com/socialinbox/inbox-cli/internal/channel"
	"github.com/socialinbox/inbox-cli/internal/config"
	"github.com/socialinbox/inbox-cli/internal/resolve"
	"github.com/socialinbox/inbox-cli/internal/visibility"
)

const (
	exitOK          = 0
	exitGeneric     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitRateLimited = 6
	exitServer      = 7
	exitNetwork     = 8
	exitPartial     = 9
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	var handled *handledError
	if errors.As(err, &handled) && handled.exitCode != 0 {
		return handled.exitCode
	}

	var apiErr *api.APIError
	var partial *partialError
	var blocked *actions.BlockedWordError
	var ambiguous *resolve.AmbiguousError
	var settingsErr *visibility.SettingsError
	var protoErr *channel.IncompatibleProtocolError
	switch {
	case errors.As(err, &partial):
		return exitPartial
	case errors.Is(err, config.ErrNotConfigured), api.IsAuthError(err):
		return exitAuth
	case api.IsRateLimitError(err):
		return exitRateLimited
	case api.IsCircuitBreakerError(err), errors.As(err, &protoErr):
		return exitServer
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 404:
			return exitNotFound
		case apiErr.StatusCode >= 500:
			return exitServer
		case apiErr.StatusCode >= 400:
			return exitUsage
		}
	case errors.As(err, &blocked), errors.As(err, &ambiguous), errors.As(err, &settingsErr),
		errors.Is(err, resolve.ErrNoMatch):
		return exitUsage
	}
	if isNetworkError(err) {
		return exitNetwork
	}
	if isUsageError(err) {
		return exitUsage
	}
	return exitGeneric
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var reqErr *api.RequestError
	var transportErr *channel.TransportError
	var netErr net.Error
	return errors.As(err, &reqErr) || errors.As(err, &transportErr) || errors.As(err, &netErr)
}

func isUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"requires at least",
		"accepts ",
		"invalid argument",
		"must be",
		"is required",
		"invalid output format",
		"invalid --",
		"cannot be used together",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// HandleError returns a user-facing message with suggestions.
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder
	var apiErr *api.APIError
	var rateLimitErr *api.RateLimitError
	var protoErr *channel.IncompatibleProtocolError
	var blocked *actions.BlockedWordError
	var ambiguous *resolve.AmbiguousError
	var partial *partialError

	switch {
	case errors.As(err, &partial):
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())

	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No account configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: inbox auth login --api-url URL --socket-url URL --token TOKEN\n")
		msg.WriteString("  - Or set INBOX_API_URL, INBOX_SOCKET_URL and INBOX_TOKEN\n")

	case errors.As(err, &rateLimitErr):
		msg.WriteString("Rate limit exceeded.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Wait a few seconds and retry\n")
		msg.WriteString("  - Lower INBOX_CONCURRENCY for bulk actions\n")

	case api.IsCircuitBreakerError(err):
		msg.WriteString("Service temporarily unavailable (circuit breaker open).\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - The API has had multiple failures recently\n")
		msg.WriteString("  - Wait 30 seconds and retry\n")

	case errors.As(err, &protoErr):
		fmt.Fprintf(&msg, "%s\n\n", protoErr.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Upgrade the server or point --socket-url at a compatible one\n")

	case errors.As(err, &blocked):
		fmt.Fprintf(&msg, "Message not sent: it contains the blocked word %q.\n", blocked.Word)

	case errors.As(err, &ambiguous):
		fmt.Fprintf(&msg, "%s\n\n", ambiguous.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Pass the conversation id instead of a name\n")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "API error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString(suggestionsForStatusCode(apiErr.StatusCode))
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "\nRequest ID: %s\n", apiErr.RequestID)
		}

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the URLs: inbox auth status\n")
		msg.WriteString("  - Check your network connection\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}
	return msg.String()
}

func suggestionsForStatusCode(code int) string {
	var s strings.Builder
	s.WriteString("Suggestions:\n")
	switch code {
	case 400, 422:
		s.WriteString("  - Check your request parameters\n")
		s.WriteString("  - Use --debug to see the full request\n")
	case 401:
		s.WriteString("  - Your token may be invalid or expired\n")
		s.WriteString("  - Run: inbox auth login\n")
	case 403:
		s.WriteString("  - You don't have permission for this action\n")
	case 404:
		s.WriteString("  - Check the conversation or page id\n")
	case 500, 502, 503, 504:
		s.WriteString("  - Server error, wait and retry\n")
	default:
		s.WriteString("  - Use --debug for more details\n")
	}
	return s.String()
}
