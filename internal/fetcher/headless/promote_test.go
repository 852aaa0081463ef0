package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

type stubFetcher struct {
	resp  ingest.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, ingest.FetchRequest) (ingest.FetchResponse, error) {
	s.calls++
	return s.resp, s.err
}

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp ingest.FetchResponse
		want bool
	}{
		{"empty body", ingest.FetchResponse{StatusCode: 200}, true},
		{"spa marker", ingest.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}, true},
		{"script heavy", ingest.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, true},
		{"json-ld present", ingest.FetchResponse{
			StatusCode: 200,
			Body:       []byte(`<div id="root"></div><script type="application/ld+json">{}</script>`),
		}, false},
		{"not found", ingest.FetchResponse{StatusCode: 404, Body: []byte("not found")}, false},
		{"already rendered", ingest.FetchResponse{StatusCode: 200, UsedHeadless: true}, false},
		{"plain page", ingest.FetchResponse{StatusCode: 200, Body: []byte(`<html><body><p>Job text</p></body></html>`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NeedsRender(tt.resp, 1000))
		})
	}
}

func TestPromotingRendersShells(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: ingest.FetchResponse{StatusCode: 200, Body: []byte(`<div id="app"></div>`)}}
	renderer := &stubFetcher{resp: ingest.FetchResponse{StatusCode: 200, Body: []byte("rendered"), UsedHeadless: true}}

	resp, err := NewPromoting(static, renderer, 0, nil).Fetch(context.Background(), ingest.FetchRequest{URL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(resp.Body))
	assert.Equal(t, 1, renderer.calls)
}

func TestPromotingKeepsStaticPage(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: ingest.FetchResponse{StatusCode: 200, Body: []byte(`<html><p>Job text</p></html>`)}}
	renderer := &stubFetcher{}

	resp, err := NewPromoting(static, renderer, 0, nil).Fetch(context.Background(), ingest.FetchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "<html><p>Job text</p></html>", string(resp.Body))
	assert.Zero(t, renderer.calls)
}

func TestPromotingFallsBackWhenRenderFails(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: ingest.FetchResponse{StatusCode: 200}}
	renderer := &stubFetcher{err: errors.New("browser crashed")}

	resp, err := NewPromoting(static, renderer, 0, nil).Fetch(context.Background(), ingest.FetchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, renderer.calls)
}

func TestPromotingReturnsStaticErrors(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: &ingest.HTTPError{StatusCode: 503}}
	renderer := &stubFetcher{}

	_, err := NewPromoting(static, renderer, 0, nil).Fetch(context.Background(), ingest.FetchRequest{})
	var httpErr *ingest.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Zero(t, renderer.calls)
}
