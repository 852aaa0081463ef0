package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/adapter/htmltext"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	amazonAPIURL    = "https://amazon.jobs/en/search.json"
	amazonJobPrefix = "https://amazon.jobs"
	amazonPageSize  = 100
)

// Amazon lists postings from the amazon.jobs search API.
type Amazon struct {
	client adapter.Client
	apiURL string
}

// NewAmazon builds the Amazon adapter.
func NewAmazon(client adapter.Client, apiURL string) *Amazon {
	return &Amazon{client: client.WithDefaults(), apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (a *Amazon) Source() ingest.Source { return ingest.SourceAmazon }

type amazonPage struct {
	Hits int              `json:"hits"`
	Jobs []map[string]any `json:"jobs"`
}

// Discover pages through search results by offset until hits are exhausted.
func (a *Amazon) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	var listings []adapter.Listing
	offset := 0
	total := -1
	for total < 0 || offset < total {
		var page amazonPage
		err := a.client.GetJSON(ctx, a.apiURL, amazonQuery(offset), amazonHeaders(), &page)
		if err != nil {
			if total < 0 {
				return ingest.DiscoverResult{}, fmt.Errorf("amazon search: %w", err)
			}
			a.client.Logger.Warn("amazon pagination stopped", zap.Int("offset", offset), zap.Error(err))
			break
		}
		if total < 0 {
			total = page.Hits
		}
		if len(page.Jobs) == 0 {
			break
		}
		for _, job := range page.Jobs {
			listings = append(listings, adapter.Listing{
				// id_icims is the public job number; id is an internal UUID.
				ID:       adapter.String(job, "id_icims"),
				Title:    adapter.String(job, "title"),
				Location: adapter.String(job, "location"),
				Data:     job,
			})
		}
		offset += len(page.Jobs)
	}
	return adapter.Summarize(ingest.SourceAmazon, amazonJobPrefix, listings, filter), nil
}

func amazonQuery(offset int) url.Values {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("result_limit", strconv.Itoa(amazonPageSize))
	q.Set("sort", "relevant")
	q.Set("base_query", "software engineer 3")
	q.Add("category[]", "software-development")
	q.Add("business_category[]", "amazon-web-services")
	return q
}

func amazonHeaders() http.Header {
	return http.Header{"Accept": {"application/json, text/plain, */*"}}
}

// FetchContent implements adapter.Adapter.
func (a *Amazon) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return a.client.FetchPage(ctx, nil, target)
}

// Parse reads the DESCRIPTION and qualification h2 sections of a job page.
func (a *Amazon) Parse(raw []byte) (ingest.ParsedContent, error) {
	if len(raw) == 0 {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAmazon, "no content to extract from")
	}
	doc, err := htmltext.Parse(raw)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAmazon, err.Error())
	}
	sections := htmltext.Sections(doc, "h2")
	content := ingest.ParsedContent{
		Description: htmltext.Lookup(sections, "Description"),
		Requirements: htmltext.Join(
			htmltext.Labeled{Label: "Basic Qualifications:\n", Text: htmltext.Lookup(sections, "Basic qualifications")},
			htmltext.Labeled{Label: "Preferred Qualifications:\n", Text: htmltext.Lookup(sections, "Preferred qualifications")},
		),
	}
	if content.Description == "" && content.Requirements == "" {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAmazon, "no job sections found")
	}
	return content, nil
}
