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
	netflixAPIURL      = "https://explore.jobs.netflix.net/api/apply/v2/jobs"
	netflixJobPrefix   = "https://jobs.netflix.com/jobs"
	netflixContentBase = "https://explore.jobs.netflix.net/careers/job/"
	netflixPageSize    = 50
)

var netflixJobIDPattern = regexp.MustCompile(`/jobs/(\d+)`)

var netflixSplitter = htmltext.Splitter{
	Required: []string{
		"Qualification", "Required Qualification",
		"We are looking for individuals with the following qualification",
		"Requirement", "Who you are", "We're Eager to Talk to You If",
	},
	Preferred: []string{"Nice to have", "Preferred", "What sets you apart", "Some nice to haves"},
	End: []string{
		"What will you learn", "What you will learn", "The Internship", "The Summer Internship",
		"About the", "About this", "A few more things about us", "Our compensation structure",
	},
	KeepTail: true,
}

// Netflix lists postings from the Eightfold-backed jobs API.
type Netflix struct {
	client adapter.Client
	apiURL string
}

// NewNetflix builds the Netflix adapter.
func NewNetflix(client adapter.Client, apiURL string) *Netflix {
	return &Netflix{client: client.WithDefaults(), apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (n *Netflix) Source() ingest.Source { return ingest.SourceNetflix }

type netflixPage struct {
	Count     int              `json:"count"`
	Positions []map[string]any `json:"positions"`
}

// Discover pages through positions with start/num.
func (n *Netflix) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	var listings []adapter.Listing
	start := 0
	total := -1
	for total < 0 || start < total {
		var page netflixPage
		if err := n.client.GetJSON(ctx, n.apiURL, netflixQuery(start), nil, &page); err != nil {
			if total < 0 {
				return ingest.DiscoverResult{}, fmt.Errorf("netflix positions: %w", err)
			}
			n.client.Logger.Warn("netflix pagination stopped", zap.Int("start", start), zap.Error(err))
			break
		}
		if total < 0 {
			total = page.Count
		}
		if len(page.Positions) == 0 {
			break
		}
		for _, pos := range page.Positions {
			pos["url"] = adapter.String(pos, "canonicalPositionUrl")
			listings = append(listings, adapter.Listing{
				ID:       adapter.String(pos, "id"),
				Title:    adapter.String(pos, "name"),
				Location: adapter.String(pos, "location"),
				Data:     pos,
			})
		}
		start += len(page.Positions)
	}
	return adapter.Summarize(ingest.SourceNetflix, netflixJobPrefix, listings, filter), nil
}

func netflixQuery(start int) url.Values {
	q := url.Values{}
	q.Set("domain", "netflix.com")
	q.Set("sort_by", "relevance")
	q.Set("start", strconv.Itoa(start))
	q.Set("num", strconv.Itoa(netflixPageSize))
	q.Set("Teams", "Engineering")
	q.Set("Work Type", "onsite")
	q.Set("Region", "ucan")
	return q
}

// FetchContent loads the explore.jobs page, which carries the JSON-LD
// posting, instead of the public jobs.netflix.com URL.
func (n *Netflix) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return n.client.FetchPage(ctx, nil, netflixContentURL(target))
}

func netflixContentURL(target string) string {
	if m := netflixJobIDPattern.FindStringSubmatch(target); m != nil {
		return netflixContentBase + m[1]
	}
	return target
}

// Parse splits the JSON-LD description at its qualification headings.
func (n *Netflix) Parse(raw []byte) (ingest.ParsedContent, error) {
	return parseJobPosting(ingest.SourceNetflix, raw, netflixSplitter)
}

// parseJobPosting reads the JSON-LD JobPosting description and splits it.
func parseJobPosting(source ingest.Source, raw []byte, sp htmltext.Splitter) (ingest.ParsedContent, error) {
	if len(raw) == 0 {
		return ingest.ParsedContent{}, parseFailure(source, "no content to extract from")
	}
	doc, err := htmltext.Parse(raw)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(source, err.Error())
	}
	desc, ok := htmltext.JobPostingDescription(doc)
	if !ok {
		return ingest.ParsedContent{}, parseFailure(source, "could not find job description in JSON-LD")
	}
	fragment, err := htmltext.ParseFragment(desc)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(source, err.Error())
	}
	description, requirements := sp.Split(htmltext.Blocks(fragment))
	if description == "" && requirements == "" {
		return ingest.ParsedContent{}, parseFailure(source, "empty job description")
	}
	return ingest.ParsedContent{Description: description, Requirements: requirements}, nil
}
