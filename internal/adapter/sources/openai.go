package sources

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/adapter/htmltext"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	openaiAPIURL    = "https://api.ashbyhq.com/posting-api/job-board/openai"
	openaiJobPrefix = "https://jobs.ashbyhq.com/openai"
)

var openaiSplitter = htmltext.Splitter{
	Required: []string{
		"You might thrive in this role if", "We're looking for", "We expect you to",
		"Qualification", "Requirement",
		"What we're looking for", "About you", "You should have",
	},
	Preferred: []string{"Nice to have", "Nice-to-have", "Bonus", "Preferred"},
	End: []string{
		"About OpenAI", "Compensation", "Benefits", "Location", "We offer", "Our tech stack",
	},
}

// OpenAI lists postings from the Ashby job-board API.
type OpenAI struct {
	client adapter.Client
	apiURL string
}

// NewOpenAI builds the OpenAI adapter.
func NewOpenAI(client adapter.Client, apiURL string) *OpenAI {
	return &OpenAI{client: client.WithDefaults(), apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (o *OpenAI) Source() ingest.Source { return ingest.SourceOpenAI }

type ashbyBoard struct {
	Jobs []map[string]any `json:"jobs"`
}

// Discover reads the whole board in one request.
func (o *OpenAI) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	var board ashbyBoard
	if err := o.client.GetJSON(ctx, o.apiURL, nil, nil, &board); err != nil {
		return ingest.DiscoverResult{}, fmt.Errorf("ashby job board: %w", err)
	}
	listings := make([]adapter.Listing, 0, len(board.Jobs))
	for _, job := range board.Jobs {
		job["url"] = adapter.String(job, "jobUrl")
		listings = append(listings, adapter.Listing{
			ID:       adapter.String(job, "id"),
			Title:    adapter.String(job, "title"),
			Location: adapter.String(job, "location"),
			Data:     job,
		})
	}
	return adapter.Summarize(ingest.SourceOpenAI, openaiJobPrefix, listings, filter), nil
}

// FetchContent implements adapter.Adapter.
func (o *OpenAI) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return o.client.FetchPage(ctx, nil, target)
}

// Parse splits the JSON-LD description at its requirement headings; text
// after the requirements (compensation, company blurb) is dropped.
func (o *OpenAI) Parse(raw []byte) (ingest.ParsedContent, error) {
	return parseJobPosting(ingest.SourceOpenAI, raw, openaiSplitter)
}
