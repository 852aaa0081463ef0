package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/adapter/htmltext"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	googleAPIURL   = "https://www.google.com/about/careers/applications/jobs/results"
	googleLocation = "California, USA"
	googleMaxPages = 100
)

// Job tuples are embedded in the results page as ["<id>","<title>","https://www.google.com/about/careers...
var googleJobPattern = regexp.MustCompile(`\["(\d{15,20})","([^"]*?)","https://www\.google\.com/about/careers`)

// Google lists postings from the Google Careers results page.
type Google struct {
	client adapter.Client
	apiURL string
}

// NewGoogle builds the Google adapter. The results URL doubles as the job
// URL prefix.
func NewGoogle(client adapter.Client, apiURL string) *Google {
	return &Google{client: client.WithDefaults(), apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (g *Google) Source() ingest.Source { return ingest.SourceGoogle }

// Discover pages through results until a page is empty or repeats.
func (g *Google) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	seen := make(map[string]struct{})
	var listings []adapter.Listing
	for page := 1; page <= googleMaxPages; page++ {
		body, err := g.client.Get(ctx, g.apiURL, googleQuery(page), nil)
		if err != nil {
			if page == 1 {
				return ingest.DiscoverResult{}, fmt.Errorf("google results page 1: %w", err)
			}
			g.client.Logger.Warn("google pagination stopped", zap.Int("page", page), zap.Error(err))
			break
		}
		added := 0
		for _, m := range googleJobPattern.FindAllSubmatch(body, -1) {
			id := string(m[1])
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			title := unquoteJS(string(m[2]))
			listings = append(listings, adapter.Listing{
				ID:       id,
				Title:    title,
				Location: googleLocation,
				Data:     map[string]any{"id": id, "title": title, "location": googleLocation},
			})
			added++
		}
		if added == 0 {
			break
		}
	}
	return adapter.Summarize(ingest.SourceGoogle, g.apiURL, listings, filter), nil
}

func googleQuery(page int) url.Values {
	q := url.Values{}
	q.Set("employment_type", "FULL_TIME")
	q.Add("company", "Google")
	q.Add("company", "YouTube")
	q.Set("location", googleLocation)
	q.Set("q", `"Software Engineer"`)
	q.Set("target_level", "ADVANCED")
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	return q
}

// unquoteJS decodes \uXXXX escapes inside a captured JS string.
func unquoteJS(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

// FetchContent implements adapter.Adapter.
func (g *Google) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return g.client.FetchPage(ctx, nil, target)
}

// Parse reads the h3 sections of a posting page.
func (g *Google) Parse(raw []byte) (ingest.ParsedContent, error) {
	if len(raw) == 0 {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceGoogle, "no content to extract from")
	}
	doc, err := htmltext.Parse(raw)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceGoogle, err.Error())
	}
	sections := htmltext.Sections(doc, "h3")
	content := ingest.ParsedContent{
		Description: htmltext.Join(
			htmltext.Labeled{Text: htmltext.Lookup(sections, "About the job")},
			htmltext.Labeled{Label: "Responsibilities:\n", Text: htmltext.Lookup(sections, "Responsibilities")},
		),
		Requirements: htmltext.Join(
			htmltext.Labeled{Label: "Minimum Qualifications:\n", Text: htmltext.Lookup(sections, "Minimum qualifications")},
			htmltext.Labeled{Label: "Preferred Qualifications:\n", Text: htmltext.Lookup(sections, "Preferred qualifications")},
		),
	}
	if content.Description == "" && content.Requirements == "" {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceGoogle, "no job sections found")
	}
	return content, nil
}
