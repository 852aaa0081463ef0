package sources

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	robloxAPIURL         = "https://d32kbl9jppd7az.cloudfront.net/careers/jobs.json"
	robloxJobPrefix      = "https://careers.roblox.com/jobs"
	robloxEmploymentType = "Salaried Employee"
	robloxLocation       = "San Mateo, CA, United States"
)

// Roblox lists postings from the static careers feed.
type Roblox struct {
	client   adapter.Client
	headless ingest.Fetcher
	apiURL   string
}

// NewRoblox builds the Roblox adapter. Posting pages are rendered with
// headless when it is non-nil.
func NewRoblox(client adapter.Client, headless ingest.Fetcher, apiURL string) *Roblox {
	return &Roblox{client: client.WithDefaults(), headless: headless, apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (r *Roblox) Source() ingest.Source { return ingest.SourceRoblox }

// Discover reads the whole feed and keeps salaried San Mateo roles.
func (r *Roblox) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	var feed any
	if err := r.client.GetJSON(ctx, r.apiURL, nil, nil, &feed); err != nil {
		return ingest.DiscoverResult{}, fmt.Errorf("roblox feed: %w", err)
	}
	if _, ok := feed.([]any); !ok {
		return ingest.DiscoverResult{}, parseFailure(ingest.SourceRoblox, "feed is not a list")
	}
	var listings []adapter.Listing
	for _, job := range adapter.AsObjects(feed) {
		if adapter.String(job, "employment_type") != robloxEmploymentType {
			continue
		}
		if adapter.String(job, "location") != robloxLocation {
			continue
		}
		listings = append(listings, adapter.Listing{
			ID:       adapter.String(job, "id"),
			Title:    adapter.String(job, "title"),
			Location: adapter.String(job, "location"),
			Data:     job,
		})
	}
	return adapter.Summarize(ingest.SourceRoblox, robloxJobPrefix, listings, filter), nil
}

// FetchContent implements adapter.Adapter.
func (r *Roblox) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return r.client.FetchPage(ctx, r.headless, target)
}

// Parse implements adapter.Adapter.
func (r *Roblox) Parse(raw []byte) (ingest.ParsedContent, error) {
	return parseGeneric(ingest.SourceRoblox, raw)
}
