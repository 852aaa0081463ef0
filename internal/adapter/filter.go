package adapter

import (
	"strings"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Listing is one posting as returned by a source listing API, before
// filtering and URL construction.
type Listing struct {
	ID       string
	Title    string
	Location string
	// Data carries the raw listing fields; absolute_url, url and job_path
	// take part in URL construction.
	Data map[string]any
}

// MatchTitle applies filter to one title. Empty titles never match, any
// exclude term rejects, and a nil include list accepts everything else.
func MatchTitle(title string, filter ingest.TitleFilter) bool {
	if title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, term := range filter.Exclude {
		if strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	if filter.Include == nil {
		return true
	}
	for _, term := range filter.Include {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// NormalizeFilter maps an empty include list to nil so it matches all titles.
func NormalizeFilter(filter ingest.TitleFilter) ingest.TitleFilter {
	if len(filter.Include) == 0 {
		filter.Include = nil
	}
	return filter
}

// Summarize filters listings and builds their URLs. An empty include list
// matches every title. Listings whose URL cannot be built are dropped from
// both the included and excluded sets but still count toward TotalCount.
func Summarize(
	source ingest.Source,
	prefix string,
	listings []Listing,
	filter ingest.TitleFilter,
) ingest.DiscoverResult {
	filter = NormalizeFilter(filter)
	result := ingest.DiscoverResult{
		Source:     source,
		Jobs:       []ingest.DiscoveredJob{},
		TotalCount: len(listings),
	}
	for _, l := range listings {
		included := MatchTitle(l.Title, filter)
		if !included {
			result.FilteredCount++
		}
		url := BuildURL(prefix, l.ID, l.Data)
		if url == "" {
			continue
		}
		job := ingest.DiscoveredJob{
			ExternalID: l.ID,
			Title:      l.Title,
			Location:   l.Location,
			URL:        url,
			Data:       l.Data,
		}
		if included {
			result.Jobs = append(result.Jobs, job)
		} else {
			result.Excluded = append(result.Excluded, job)
		}
	}
	return result
}

// BuildURL resolves a posting URL: absolute_url, then url, then prefix +
// job_path, then prefix + "/" + id.
func BuildURL(prefix, id string, data map[string]any) string {
	for _, key := range []string{"absolute_url", "url"} {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	if path, ok := data["job_path"].(string); ok && path != "" {
		return prefix + path
	}
	if id != "" {
		return prefix + "/" + id
	}
	return ""
}
