package ingest

import (
	"net/http"
	"net/url"
	"time"
)

// Source identifies one external career site.
type Source string

// Sources with a registered extraction adapter.
const (
	SourceGoogle    Source = "google"
	SourceAmazon    Source = "amazon"
	SourceAnthropic Source = "anthropic"
	SourceTikTok    Source = "tiktok"
	SourceRoblox    Source = "roblox"
	SourceNetflix   Source = "netflix"
	SourceOpenAI    Source = "openai"
)

// AllSources lists every supported source in display order.
var AllSources = []Source{
	SourceGoogle, SourceAmazon, SourceAnthropic, SourceTikTok, SourceRoblox, SourceNetflix, SourceOpenAI,
}

// Valid reports whether s names a supported source.
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// RunStatus represents the lifecycle state of an ingestion run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusPending      RunStatus = "pending"
	RunStatusInitializing RunStatus = "initializing"
	RunStatusIngesting    RunStatus = "ingesting"
	RunStatusFinished     RunStatus = "finished"
	RunStatusError        RunStatus = "error"
	RunStatusAborted      RunStatus = "aborted"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusFinished, RunStatusError, RunStatusAborted:
		return true
	default:
		return false
	}
}

// PostingStatus represents the pipeline state of one posting.
type PostingStatus string

// Posting status values.
const (
	PostingStatusPending PostingStatus = "pending"
	PostingStatusReady   PostingStatus = "ready"
	PostingStatusSkipped PostingStatus = "skipped"
	PostingStatusExpired PostingStatus = "expired"
	PostingStatusError   PostingStatus = "error"
)

// Run is one ingestion attempt for one owner across all enabled sources.
type Run struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Status         RunStatus         `json:"status"`
	SourceFailures map[Source]int    `json:"source_failures,omitempty"`
	SourceErrors   map[Source]string `json:"source_errors,omitempty"`
	TotalJobs      int               `json:"total_jobs"`
	JobsReady      int               `json:"jobs_ready"`
	JobsSkipped    int               `json:"jobs_skipped"`
	JobsExpired    int               `json:"jobs_expired"`
	JobsFailed     int               `json:"jobs_failed"`
	Flags          Flags             `json:"flags"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// Posting is one job listing keyed by (owner, source, external id).
type Posting struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	RunID         string        `json:"run_id"`
	Source        Source        `json:"source"`
	ExternalID    string        `json:"external_id"`
	URL           string        `json:"url"`
	Status        PostingStatus `json:"status"`
	Title         string        `json:"title"`
	Location      string        `json:"location,omitempty"`
	Description   string        `json:"description,omitempty"`
	Requirements  string        `json:"requirements,omitempty"`
	Fingerprint   *uint64       `json:"fingerprint,omitempty"`
	RawContentURI string        `json:"raw_content_uri,omitempty"`
	AwaitingParse bool          `json:"awaiting_parse"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Discovery summarizes the listing phase of a run.
type Discovery struct {
	Total        int
	Expired      int
	SourceErrors map[Source]string
}

// Counts aggregates posting statuses for one run. Pending includes postings
// that were fetched but not yet parsed.
type Counts struct {
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Flags are carried from the run trigger through every queued instruction.
type Flags struct {
	UseAltStorage bool `json:"use_alt_storage,omitempty"`
	Force         bool `json:"force,omitempty"`
}

// RunRequest asks the coordinator pool to process a pending run.
type RunRequest struct {
	RunID   string `json:"run_id" validate:"required"`
	OwnerID string `json:"owner_id" validate:"required"`
	Flags   Flags  `json:"flags"`
}

// CrawlInstruction asks a crawl worker to fetch one posting.
type CrawlInstruction struct {
	OwnerID    string `json:"owner_id" validate:"required"`
	RunID      string `json:"run_id" validate:"required"`
	Source     Source `json:"source" validate:"required"`
	ExternalID string `json:"external_id" validate:"required"`
	URL        string `json:"url" validate:"required,url"`
	Flags      Flags  `json:"flags"`
}

// ExtractInstruction asks an extract worker to parse one stored posting.
type ExtractInstruction struct {
	RunID         string `json:"run_id" validate:"required"`
	PostingID     string `json:"posting_id" validate:"required"`
	Source        Source `json:"source" validate:"required"`
	RawContentURI string `json:"raw_content_uri" validate:"required"`
	Flags         Flags  `json:"flags"`
}

// TitleFilter selects postings by title. A nil Include matches everything;
// Exclude is checked first and rejects on any match.
type TitleFilter struct {
	Include []string `json:"include" mapstructure:"include"`
	Exclude []string `json:"exclude" mapstructure:"exclude"`
}

// SourceSetting is one owner's configuration for one source.
type SourceSetting struct {
	OwnerID string      `json:"owner_id"`
	Source  Source      `json:"source"`
	Filter  TitleFilter `json:"title_filters"`
	Enabled bool        `json:"is_enabled"`
}

// DiscoveredJob is one posting visible on a source listing.
type DiscoveredJob struct {
	ExternalID string         `json:"id"`
	Title      string         `json:"title"`
	Location   string         `json:"location,omitempty"`
	URL        string         `json:"url"`
	Data       map[string]any `json:"response_data,omitempty"`
}

// DiscoverResult is the outcome of listing one source.
type DiscoverResult struct {
	Source        Source          `json:"source"`
	Jobs          []DiscoveredJob `json:"jobs"`
	TotalCount    int             `json:"total_count"`
	FilteredCount int             `json:"filtered_count"`
	Excluded      []DiscoveredJob `json:"excluded_jobs,omitempty"`
}

// URLCount returns the number of postings that survived filtering.
func (r DiscoverResult) URLCount() int {
	return len(r.Jobs)
}

// ParsedContent holds the structured fields extracted from a posting page.
type ParsedContent struct {
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
}

// FetchRequest captures everything needed to issue one HTTP request.
type FetchRequest struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	Body    []byte
	Timeout time.Duration
}

// FetchResponse is the raw result of a FetchRequest.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
