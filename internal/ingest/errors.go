package ingest

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxErrorLength bounds error text persisted on runs and postings.
const MaxErrorLength = 500

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunAborted marks work skipped because its run was aborted.
	ErrRunAborted = errors.New("run aborted")
	// ErrMalformed marks a queue message that can never be processed.
	ErrMalformed = errors.New("malformed message")
)

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// HTTPError reports a non-2xx response from an upstream site.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// ParseError reports that expected structure was absent from fetched content.
type ParseError struct {
	Source Source
	Reason string
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return "parse: " + e.Reason
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}
