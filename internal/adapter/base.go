package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	// DefaultListTimeout bounds one listing API call.
	DefaultListTimeout = 10 * time.Second
	// DefaultContentTimeout bounds one posting page fetch.
	DefaultContentTimeout = 15 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
)

// Client is the HTTP plumbing embedded by source adapters.
type Client struct {
	Fetcher        ingest.Fetcher
	Logger         *zap.Logger
	UserAgent      string
	ListTimeout    time.Duration
	ContentTimeout time.Duration
}

// WithDefaults fills unset fields.
func (c Client) WithDefaults() Client {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.ListTimeout <= 0 {
		c.ListTimeout = DefaultListTimeout
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = DefaultContentTimeout
	}
	return c
}

// Headers returns the browser-like defaults merged with extra.
func (c Client) Headers(extra http.Header) http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	for key, values := range extra {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

// Get issues a listing GET and returns the body.
func (c Client) Get(ctx context.Context, target string, query url.Values, headers http.Header) ([]byte, error) {
	resp, err := c.Fetcher.Fetch(ctx, ingest.FetchRequest{
		Method:  http.MethodGet,
		URL:     target,
		Query:   query,
		Headers: c.Headers(headers),
		Timeout: c.ListTimeout,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON issues a listing GET and decodes the JSON body into v.
func (c Client) GetJSON(ctx context.Context, target string, query url.Values, headers http.Header, v any) error {
	body, err := c.Get(ctx, target, query, jsonHeaders(headers))
	if err != nil {
		return err
	}
	return DecodeJSON(body, v)
}

// PostJSON sends payload as JSON and decodes the JSON response into v.
func (c Client) PostJSON(ctx context.Context, target string, payload any, headers http.Header, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	h := jsonHeaders(headers)
	h.Set("Content-Type", "application/json")
	resp, err := c.Fetcher.Fetch(ctx, ingest.FetchRequest{
		Method:  http.MethodPost,
		URL:     target,
		Headers: c.Headers(h),
		Body:    body,
		Timeout: c.ListTimeout,
	})
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Body, v)
}

// FetchPage fetches one posting page with the content timeout.
func (c Client) FetchPage(ctx context.Context, fetcher ingest.Fetcher, target string) ([]byte, error) {
	if fetcher == nil {
		fetcher = c.Fetcher
	}
	resp, err := fetcher.Fetch(ctx, ingest.FetchRequest{
		Method:  http.MethodGet,
		URL:     target,
		Headers: c.Headers(nil),
		Timeout: c.ContentTimeout,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func jsonHeaders(extra http.Header) http.Header {
	h := extra.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	return h
}

// DecodeJSON unmarshals body into v, reporting malformed payloads as
// *ingest.ParseError. Numbers decode as json.Number.
func DecodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &ingest.ParseError{Reason: "decode json: " + err.Error()}
	}
	return nil
}

// String reads a scalar field from a decoded JSON object as text.
func String(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Object reads a nested object field.
func Object(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

// Objects reads an array-of-objects field, skipping non-object entries.
func Objects(m map[string]any, key string) []map[string]any {
	return AsObjects(m[key])
}

// AsObjects converts a decoded JSON array into its object elements.
func AsObjects(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Int reads a numeric field, returning 0 when absent or malformed.
func Int(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
