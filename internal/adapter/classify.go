package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Kind is the user-facing class of an adapter failure.
type Kind string

// Failure classes.
const (
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection"
	KindRateLimited  Kind = "rate_limited"
	KindAccessDenied Kind = "access_denied"
	KindNotFound     Kind = "not_found"
	KindServerError  Kind = "server_error"
	KindHTTP         Kind = "http"
	KindFormat       Kind = "unexpected_format"
	KindUnknown      Kind = "unknown"
)

// Classify maps err onto a failure class.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var httpErr *ingest.HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			return KindRateLimited
		case code == http.StatusForbidden:
			return KindAccessDenied
		case code == http.StatusNotFound:
			return KindNotFound
		case code >= http.StatusInternalServerError:
			return KindServerError
		default:
			return KindHTTP
		}
	}
	var parseErr *ingest.ParseError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &parseErr) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindFormat
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"):
		return KindConnection
	}
	return KindUnknown
}

// UserMessage renders err as a human-readable classification suitable for
// persistence on a run or posting.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindTimeout:
		return "Request timed out - career site may be slow"
	case KindConnection:
		return "Connection failed - career site may be unreachable"
	case KindRateLimited:
		return "Rate limited - too many requests to career site"
	case KindAccessDenied:
		return "Access denied - site may have rate limiting"
	case KindNotFound:
		return "Career page not found - URL may have changed"
	case KindServerError:
		return "Career site server error - try again later"
	case KindHTTP:
		var httpErr *ingest.HTTPError
		errors.As(err, &httpErr)
		return fmt.Sprintf("HTTP error: %d", httpErr.StatusCode)
	case KindFormat:
		return "Unexpected response format - API may have changed"
	default:
		return "Extraction failed - unexpected error"
	}
}
