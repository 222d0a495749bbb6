package mcpmgr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrToolNotFound is returned when no connected server owns a tool and no
	// fallback route serves it.
	ErrToolNotFound = errors.New("mcpmgr: tool not found")
	// ErrToolCallTimeout is returned when a tools/list or tools/call round trip
	// exceeds the configured budget.
	ErrToolCallTimeout = errors.New("mcpmgr: tool call timed out")
	// ErrToolCallCancelled is returned when the caller fires the call's
	// cancellation token before the server answers.
	ErrToolCallCancelled = errors.New("mcpmgr: tool call cancelled")
	// ErrServerDeactivated is returned by Reconnect for servers an operator
	// deactivated on purpose.
	ErrServerDeactivated = errors.New("mcpmgr: server manually deactivated")
	// ErrUnknownServer is returned for names the manager has no connection or
	// configuration for.
	ErrUnknownServer = errors.New("mcpmgr: unknown server")
	// ErrTokenInUse is returned when a cancellation token is already bound to
	// an in-flight call.
	ErrTokenInUse = errors.New("mcpmgr: cancellation token already in use")
	// ErrTokenNotFound is returned by CancelToolCall for unknown tokens.
	ErrTokenNotFound = errors.New("mcpmgr: cancellation token not found")
	// ErrNoFallback is returned by the fallback adapter for tools outside its
	// allow-list.
	ErrNoFallback = errors.New("mcpmgr: no HTTP fallback for tool")
)

// ConfigError reports a missing or invalid server configuration. It is fatal
// to a start attempt and never retried.
type ConfigError struct {
	Server string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mcpmgr: invalid configuration for %q: %s", e.Server, e.Reason)
}

// transportIndicators are substrings that mark an error as a broken
// connection rather than a tool-level failure.
var transportIndicators = []string{
	"Transport",
	"transport",
	"connection",
	"Connection",
	"HTTP",
	"status client error",
	"status server error",
	"network",
	"Network",
	"refused",
	"reset",
	"closed",
	"broken pipe",
}

// IsTransportError reports whether err looks like an unusable connection.
// The check is coarse: false negatives skip the reconnect, false positives
// cost one extra reconnect attempt.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrToolCallTimeout) || errors.Is(err, ErrToolCallCancelled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, indicator := range transportIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// isMethodUnavailableError reports whether err is a server declining method,
// as opposed to a broken connection or an unrelated capability. Transport
// failures such as a proxy answering 501 never qualify, so their empty result
// is not cached as the server's tool list.
func isMethodUnavailableError(err error, method string) bool {
	if err == nil || IsTransportError(err) {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	method = strings.ToLower(method)
	if strings.Contains(lower, method) {
		return true
	}
	for _, part := range strings.FieldsFunc(method, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
