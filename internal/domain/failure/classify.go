package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// Error is a classified failure. It wraps the original error.
type Error struct {
	Category     Category
	Severity     Severity
	Retryable    bool
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// Attempts is the number of calls made before giving up. Set by the retry executor.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// marked carries a category assigned by the code that produced the error.
type marked struct {
	category Category
	err      error
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Mark attaches an explicit category to err. Classify honours it before any pattern matching.
func Mark(err error, c Category) error {
	if err == nil {
		return nil
	}
	return &marked{category: c, err: err}
}

// IsMarked reports whether err carries category c attached by Mark.
func IsMarked(err error, c Category) bool {
	var m *marked
	return errors.As(err, &m) && m.category == c
}

// statusError carries an upstream HTTP status code.
type statusError struct {
	status int
	err    error
}

func (s *statusError) Error() string { return s.err.Error() }
func (s *statusError) Unwrap() error { return s.err }

// FromHTTPStatus attaches an upstream HTTP status code to err.
func FromHTTPStatus(err error, status int) error {
	if err == nil {
		return nil
	}
	return &statusError{status: status, err: err}
}

var networkNeedles = []string{
	"network", "econnrefused", "econnreset", "enotfound", "connection refused",
	"connection reset", "no such host", "dial tcp", "broken pipe", "fetch failed",
	"socket hang up", "unexpected eof", "connection closed",
}

// Substring tables, checked in precedence order.
var patterns = []struct {
	category Category
	needles  []string
}{
	{Network, networkNeedles},
	{RateLimit, []string{
		"rate limit", "rate_limit", "ratelimit", "too many requests", "429",
		"quota exceeded", "throttl",
	}},
	{Authentication, []string{
		"unauthorized", "unauthenticated", "401", "invalid api key", "incorrect api key",
		"authentication", "password authentication failed",
	}},
	{Authorization, []string{
		"forbidden", "403", "permission denied", "access denied", "not authorized",
	}},
	{Timeout, []string{
		"timeout", "timed out", "deadline exceeded", "etimedout",
	}},
	{ServiceUnavailable, []string{
		"service unavailable", "503", "502", "504", "bad gateway",
		"internal server error", "overloaded", "server error",
	}},
	{Validation, []string{
		"validation", "invalid", "bad request", "400", "422", "schema", "malformed",
	}},
}

// Classify maps err onto a category and its retry policy. Pure and deterministic.
// A nil error yields nil. Already classified errors are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	c, noRetry := categoryOf(err)
	p := PolicyFor(c)
	out := &Error{
		Category:     c,
		Severity:     p.Severity,
		Retryable:    p.Retryable,
		MaxRetries:   p.MaxRetries,
		BaseDelay:    p.BaseDelay,
		MaxDelay:     p.MaxDelay,
		JitterFactor: p.JitterFactor,
		Err:          err,
	}
	if noRetry {
		out.Retryable = false
		out.MaxRetries = 0
		out.BaseDelay = 0
		out.MaxDelay = 0
		out.JitterFactor = 0
	}
	return out
}

// categoryOf returns the category and whether retries are ruled out regardless of policy.
func categoryOf(err error) (Category, bool) {
	var m *marked
	if errors.As(err, &m) {
		return m.category, false
	}

	// A deadline hit while dialing means the host never answered.
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" && !errors.Is(err, context.Canceled) {
		return Network, false
	}

	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		// Open-breaker rejections are never retried.
		return ServiceUnavailable, true
	case errors.Is(err, domain.ErrProviderDisabled):
		return Configuration, false
	case errors.Is(err, domain.ErrInvalidRequest):
		return Validation, false
	case errors.Is(err, context.Canceled):
		return Unknown, true
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout, false
	}

	var se *statusError
	if errors.As(err, &se) {
		if c, ok := categoryForStatus(se.status); ok {
			return c, false
		}
	}

	msg := strings.ToLower(err.Error())
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() && !matches(msg, networkNeedles) {
			return Timeout, false
		}
		return Network, false
	}

	for _, p := range patterns {
		if matches(msg, p.needles) {
			return p.category, false
		}
	}
	return Unknown, false
}

func matches(msg string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func categoryForStatus(status int) (Category, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimit, true
	case status == http.StatusUnauthorized:
		return Authentication, true
	case status == http.StatusForbidden:
		return Authorization, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout, true
	case status >= 500:
		return ServiceUnavailable, true
	case status >= 400:
		return Validation, true
	}
	return "", false
}
