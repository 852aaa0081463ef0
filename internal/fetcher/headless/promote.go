package headless

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const defaultShellThreshold = 2048

var (
	jsonLDMarker = []byte("application/ld+json")
	spaMarkers   = [][]byte{
		[]byte("__next"),
		[]byte(`id="root"`),
		[]byte(`id="app"`),
		[]byte("data-reactroot"),
	}
)

// Promoting fetches pages statically and re-renders them in the browser only
// when the static response looks like a JavaScript shell.
type Promoting struct {
	static    ingest.Fetcher
	renderer  ingest.Fetcher
	threshold int
	logger    *zap.Logger
}

// NewPromoting wraps a static fetcher and a browser renderer. threshold is
// the body size under which a script-heavy page counts as a shell.
func NewPromoting(static, renderer ingest.Fetcher, threshold int, logger *zap.Logger) *Promoting {
	if threshold <= 0 {
		threshold = defaultShellThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, renderer: renderer, threshold: threshold, logger: logger}
}

// Fetch implements ingest.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.FetchResponse, error) {
	resp, err := p.static.Fetch(ctx, request)
	if err != nil || !NeedsRender(resp, p.threshold) {
		return resp, err
	}
	p.logger.Debug("promoting to headless render", zap.String("url", request.URL), zap.Int("bytes", len(resp.Body)))
	rendered, err := p.renderer.Fetch(ctx, request)
	if err != nil {
		p.logger.Warn("headless render failed, keeping static page", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}

// NeedsRender reports whether a successful static response is unlikely to
// carry the posting. Pages with embedded JSON-LD never need rendering.
func NeedsRender(resp ingest.FetchResponse, threshold int) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if bytes.Contains(body, jsonLDMarker) {
		return false
	}
	if len(body) < threshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
