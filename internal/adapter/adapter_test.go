package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

func TestMatchTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		title  string
		filter ingest.TitleFilter
		want   bool
	}{
		{name: "nil include matches all", title: "Software Engineer", want: true},
		{name: "empty title rejected", title: "", want: false},
		{name: "include is OR", title: "Backend Engineer", filter: ingest.TitleFilter{Include: []string{"frontend", "BACKEND"}}, want: true},
		{name: "include miss", title: "Designer", filter: ingest.TitleFilter{Include: []string{"engineer"}}, want: false},
		{name: "empty include matches nothing", title: "Designer", filter: ingest.TitleFilter{Include: []string{}}, want: false},
		{name: "exclude checked first", title: "Senior Staff Engineer", filter: ingest.TitleFilter{Include: []string{"engineer"}, Exclude: []string{"senior staff"}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MatchTitle(tt.title, tt.filter))
		})
	}
}

func TestNormalizeFilter(t *testing.T) {
	t.Parallel()

	got := NormalizeFilter(ingest.TitleFilter{Include: []string{}, Exclude: []string{"intern"}})
	assert.Nil(t, got.Include)
	assert.Equal(t, []string{"intern"}, got.Exclude)
	assert.True(t, MatchTitle("Engineer", got))
}

func TestBuildURLPrecedence(t *testing.T) {
	t.Parallel()

	prefix := "https://jobs.example.com"
	assert.Equal(t, "https://gh.io/1", BuildURL(prefix, "1", map[string]any{"absolute_url": "https://gh.io/1", "url": "https://other"}))
	assert.Equal(t, "https://other", BuildURL(prefix, "1", map[string]any{"url": "https://other", "job_path": "/jobs/1"}))
	assert.Equal(t, prefix+"/en/jobs/1", BuildURL(prefix, "1", map[string]any{"job_path": "/en/jobs/1"}))
	assert.Equal(t, prefix+"/42", BuildURL(prefix, "42", nil))
	assert.Empty(t, BuildURL(prefix, "", map[string]any{"url": ""}))
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	listings := []Listing{
		{ID: "1", Title: "Software Engineer", Location: "NYC"},
		{ID: "2", Title: "Engineering Intern"},
		{ID: "3", Title: ""},
		{ID: "", Title: "Software Engineer II"},
	}
	got := Summarize(ingest.SourceAmazon, "https://amazon.jobs", listings, ingest.TitleFilter{Exclude: []string{"intern"}})

	assert.Equal(t, ingest.SourceAmazon, got.Source)
	assert.Equal(t, 4, got.TotalCount)
	assert.Equal(t, 2, got.FilteredCount)
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, "https://amazon.jobs/1", got.Jobs[0].URL)
	assert.Equal(t, "NYC", got.Jobs[0].Location)
	assert.Equal(t, 1, got.URLCount())
	assert.Len(t, got.Excluded, 2)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(stubAdapter{source: ingest.SourceOpenAI}, stubAdapter{source: ingest.SourceAmazon})
	assert.Equal(t, []ingest.Source{ingest.SourceAmazon, ingest.SourceOpenAI}, reg.Sources())

	a, err := reg.Get(ingest.SourceOpenAI)
	require.NoError(t, err)
	assert.Equal(t, ingest.SourceOpenAI, a.Source())

	_, err = reg.Get(ingest.SourceGoogle)
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), want: "Request timed out - career site may be slow"},
		{err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: "Connection failed - career site may be unreachable"},
		{err: errors.New("dial tcp: lookup nowhere: no such host"), want: "Connection failed - career site may be unreachable"},
		{err: &ingest.HTTPError{StatusCode: http.StatusTooManyRequests}, want: "Rate limited - too many requests to career site"},
		{err: &ingest.HTTPError{StatusCode: http.StatusForbidden}, want: "Access denied - site may have rate limiting"},
		{err: &ingest.HTTPError{StatusCode: http.StatusNotFound}, want: "Career page not found - URL may have changed"},
		{err: fmt.Errorf("wrap: %w", &ingest.HTTPError{StatusCode: http.StatusBadGateway}), want: "Career site server error - try again later"},
		{err: &ingest.HTTPError{StatusCode: http.StatusGone}, want: "HTTP error: 410"},
		{err: &ingest.ParseError{Reason: "missing"}, want: "Unexpected response format - API may have changed"},
		{err: errors.New("boom"), want: "Extraction failed - unexpected error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err), tt.err.Error())
	}
}

func TestClientSendsRequests(t *testing.T) {
	t.Parallel()

	fetcher := &recordingFetcher{body: []byte(`{"count": 7, "id": 12345678901234567890}`)}
	client := Client{Fetcher: fetcher}.WithDefaults()

	var payload map[string]any
	require.NoError(t, client.GetJSON(context.Background(), "https://api.example.com", nil, nil, &payload))
	assert.Equal(t, 7, Int(payload, "count"))
	assert.Equal(t, "12345678901234567890", String(payload, "id"))

	require.NoError(t, client.PostJSON(context.Background(), "https://api.example.com", map[string]int{"limit": 1}, http.Header{"website-path": {"tiktok"}}, &payload))

	reqs := fetcher.snapshot()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "application/json", reqs[0].Headers.Get("Accept"))
	assert.Equal(t, DefaultListTimeout, reqs[0].Timeout)
	assert.Equal(t, http.MethodPost, reqs[1].Method)
	assert.Equal(t, "application/json", reqs[1].Headers.Get("Content-Type"))
	assert.Equal(t, "tiktok", reqs[1].Headers.Get("website-path"))
	assert.JSONEq(t, `{"limit":1}`, string(reqs[1].Body))
}

func TestDecodeJSONReportsParseError(t *testing.T) {
	t.Parallel()

	var v map[string]any
	err := DecodeJSON([]byte("<html>"), &v)
	var parseErr *ingest.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, KindFormat, Classify(err))
}

type stubAdapter struct {
	source ingest.Source
}

func (s stubAdapter) Source() ingest.Source { return s.source }

func (s stubAdapter) Discover(context.Context, ingest.TitleFilter) (ingest.DiscoverResult, error) {
	return ingest.DiscoverResult{Source: s.source}, nil
}

func (s stubAdapter) FetchContent(context.Context, string) ([]byte, error) { return nil, nil }

func (s stubAdapter) Parse([]byte) (ingest.ParsedContent, error) { return ingest.ParsedContent{}, nil }

type recordingFetcher struct {
	mu   sync.Mutex
	reqs []ingest.FetchRequest
	body []byte
}

func (f *recordingFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return ingest.FetchResponse{StatusCode: http.StatusOK, Body: f.body}, nil
}

func (f *recordingFetcher) snapshot() []ingest.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.FetchRequest(nil), f.reqs...)
}
