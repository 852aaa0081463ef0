package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/adapter/htmltext"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	anthropicAPIURL    = "https://www.anthropic.com/careers/jobs"
	anthropicJobPrefix = "https://boards.greenhouse.io/anthropic/jobs"
	anthropicBoardHint = "greenhouse.io/anthropic/jobs"
)

var (
	rscPushPattern     = regexp.MustCompile(`(?s)self\.__next_f\.push\((.*?)\)(?:</script>|;)`)
	rscOfficePattern   = regexp.MustCompile(`"id":(\d+),"name":"([^"]+)","departments":\[`)
	anthropicTeamIDs   = map[int64]bool{4019632008: true, 4050633008: true}
	anthropicOfficeIDs = map[int64]bool{4001218008: true, 4001219008: true, 4001217008: true}
)

// Anthropic lists postings from the server-rendered careers page.
type Anthropic struct {
	client adapter.Client
	apiURL string
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(client adapter.Client, apiURL string) *Anthropic {
	return &Anthropic{client: client.WithDefaults(), apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (a *Anthropic) Source() ingest.Source { return ingest.SourceAnthropic }

type rscOffice struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Departments []rscDepartment `json:"departments"`
}

type rscDepartment struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Jobs []rscJob `json:"jobs"`
}

type rscJob struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	AbsoluteURL string      `json:"absolute_url"`
}

// Discover reads the office tree embedded in the page payload, keeps the
// configured teams and offices, and merges postings listed in several offices.
func (a *Anthropic) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	body, err := a.client.Get(ctx, a.apiURL, nil, nil)
	if err != nil {
		return ingest.DiscoverResult{}, fmt.Errorf("anthropic careers page: %w", err)
	}
	payload, ok := extractRSCPayload(body)
	if !ok {
		return ingest.DiscoverResult{}, parseFailure(ingest.SourceAnthropic, "careers payload not found")
	}
	offices := parseOffices(payload)
	if len(offices) == 0 {
		return ingest.DiscoverResult{}, parseFailure(ingest.SourceAnthropic, "no offices in careers payload")
	}
	return adapter.Summarize(ingest.SourceAnthropic, anthropicJobPrefix, anthropicListings(offices), filter), nil
}

func extractRSCPayload(page []byte) (string, bool) {
	for _, m := range rscPushPattern.FindAllSubmatch(page, -1) {
		if !bytes.Contains(m[1], []byte(anthropicBoardHint)) {
			continue
		}
		var push []any
		if err := json.Unmarshal(m[1], &push); err != nil || len(push) < 2 {
			continue
		}
		if data, ok := push[1].(string); ok {
			return data, true
		}
	}
	return "", false
}

// parseOffices decodes each office object starting at the brace that opens
// an "id","name","departments" run.
func parseOffices(payload string) []rscOffice {
	var offices []rscOffice
	for _, loc := range rscOfficePattern.FindAllStringIndex(payload, -1) {
		start := strings.LastIndexByte(payload[:loc[0]], '{')
		if start < 0 {
			continue
		}
		var office rscOffice
		dec := json.NewDecoder(strings.NewReader(payload[start:]))
		if err := dec.Decode(&office); err != nil {
			continue
		}
		offices = append(offices, office)
	}
	return offices
}

func anthropicListings(offices []rscOffice) []adapter.Listing {
	var order []string
	byID := make(map[string]*adapter.Listing)
	locations := make(map[string][]string)
	for _, office := range offices {
		if !anthropicOfficeIDs[office.ID] {
			continue
		}
		for _, dept := range office.Departments {
			if !anthropicTeamIDs[dept.ID] {
				continue
			}
			for _, job := range dept.Jobs {
				id := job.ID.String()
				if id == "" {
					continue
				}
				if !containsString(locations[id], office.Name) {
					locations[id] = append(locations[id], office.Name)
				}
				if _, ok := byID[id]; ok {
					continue
				}
				order = append(order, id)
				byID[id] = &adapter.Listing{
					ID:    id,
					Title: job.Title,
					Data: map[string]any{
						"absolute_url": job.AbsoluteURL,
						"department":   dept.Name,
						"office_id":    office.ID,
					},
				}
			}
		}
	}
	listings := make([]adapter.Listing, 0, len(order))
	for _, id := range order {
		l := byID[id]
		l.Location = strings.Join(locations[id], "; ")
		l.Data["office"] = l.Location
		listings = append(listings, *l)
	}
	return listings
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FetchContent implements adapter.Adapter.
func (a *Anthropic) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return a.client.FetchPage(ctx, nil, target)
}

// Parse reads the h2 sections of a Greenhouse job page.
func (a *Anthropic) Parse(raw []byte) (ingest.ParsedContent, error) {
	if len(raw) == 0 {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAnthropic, "no content to extract from")
	}
	doc, err := htmltext.Parse(raw)
	if err != nil {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAnthropic, err.Error())
	}
	sections := htmltext.Sections(doc, "h2")
	content := ingest.ParsedContent{
		Description: htmltext.Join(
			htmltext.Labeled{Text: htmltext.Lookup(sections, "About the role")},
			htmltext.Labeled{Label: "Responsibilities:\n", Text: htmltext.Lookup(sections, "Responsibilities")},
		),
		Requirements: htmltext.Join(
			htmltext.Labeled{Label: "Required:\n", Text: htmltext.Lookup(sections, "You may be a good fit")},
			htmltext.Labeled{Label: "Preferred:\n", Text: htmltext.Lookup(sections, "Strong candidates")},
		),
	}
	if content.Description == "" && content.Requirements == "" {
		return ingest.ParsedContent{}, parseFailure(ingest.SourceAnthropic, "no job sections found")
	}
	return content, nil
}
