package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/adapter"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const (
	tiktokAPIURL    = "https://api.lifeattiktok.com/api/v1/public/supplier/search/job/posts"
	tiktokJobPrefix = "https://lifeattiktok.com/search"
	tiktokPageSize  = 100
)

// TikTok lists postings from the Life at TikTok search API.
type TikTok struct {
	client   adapter.Client
	headless ingest.Fetcher
	apiURL   string
}

// NewTikTok builds the TikTok adapter. Posting pages are rendered with
// headless when it is non-nil.
func NewTikTok(client adapter.Client, headless ingest.Fetcher, apiURL string) *TikTok {
	return &TikTok{client: client.WithDefaults(), headless: headless, apiURL: apiURL}
}

// Source implements adapter.Adapter.
func (t *TikTok) Source() ingest.Source { return ingest.SourceTikTok }

type tiktokSearchRequest struct {
	RecruitmentIDs []string `json:"recruitment_id_list"`
	JobCategoryIDs []string `json:"job_category_id_list"`
	SubjectIDs     []string `json:"subject_id_list"`
	LocationCodes  []string `json:"location_code_list"`
	Keyword        string   `json:"keyword"`
	Limit          int      `json:"limit"`
	Offset         int      `json:"offset"`
}

type tiktokSearchResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Count    int              `json:"count"`
		JobPosts []map[string]any `json:"job_post_list"`
	} `json:"data"`
}

// Discover pages through the search API by offset.
func (t *TikTok) Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error) {
	var listings []adapter.Listing
	offset := 0
	total := -1
	for total < 0 || offset < total {
		posts, count, err := t.page(ctx, offset)
		if err != nil {
			if total < 0 {
				return ingest.DiscoverResult{}, err
			}
			t.client.Logger.Warn("tiktok pagination stopped", zap.Int("offset", offset), zap.Error(err))
			break
		}
		if total < 0 {
			total = count
		}
		if len(posts) == 0 {
			break
		}
		for _, post := range posts {
			listings = append(listings, adapter.Listing{
				ID:       adapter.String(post, "id"),
				Title:    adapter.String(post, "title"),
				Location: tiktokLocation(adapter.Object(post, "city_info")),
				Data:     post,
			})
		}
		offset += tiktokPageSize
	}
	return adapter.Summarize(ingest.SourceTikTok, tiktokJobPrefix, listings, filter), nil
}

func (t *TikTok) page(ctx context.Context, offset int) ([]map[string]any, int, error) {
	req := tiktokSearchRequest{
		RecruitmentIDs: []string{"1"},
		JobCategoryIDs: []string{"6704215862603155720"},
		SubjectIDs:     []string{},
		LocationCodes:  []string{"CT_157", "CT_75", "CT_1103355"},
		Limit:          tiktokPageSize,
		Offset:         offset,
	}
	var resp tiktokSearchResponse
	if err := t.client.PostJSON(ctx, t.apiURL, req, tiktokHeaders(), &resp); err != nil {
		return nil, 0, fmt.Errorf("tiktok search offset %d: %w", offset, err)
	}
	if resp.Code != 0 {
		return nil, 0, parseFailure(ingest.SourceTikTok, fmt.Sprintf("api code %d: %s", resp.Code, resp.Message))
	}
	return resp.Data.JobPosts, resp.Data.Count, nil
}

func tiktokHeaders() http.Header {
	return http.Header{
		"Accept":          {"*/*"},
		"Accept-Language": {"en-US"},
		"Origin":          {"https://lifeattiktok.com"},
		"Referer":         {"https://lifeattiktok.com/"},
		"Sec-Fetch-Dest":  {"empty"},
		"Sec-Fetch-Mode":  {"cors"},
		"Sec-Fetch-Site":  {"same-site"},
		"Website-Path":    {"tiktok"},
	}
}

// tiktokLocation renders "city, state" from the nested city_info tree; the
// country level is dropped.
func tiktokLocation(city map[string]any) string {
	if city == nil {
		return ""
	}
	var parts []string
	if name := adapter.String(city, "en_name"); name != "" {
		parts = append(parts, name)
	}
	if state := adapter.Object(city, "parent"); state != nil {
		if name := adapter.String(state, "en_name"); name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

// FetchContent implements adapter.Adapter.
func (t *TikTok) FetchContent(ctx context.Context, target string) ([]byte, error) {
	return t.client.FetchPage(ctx, t.headless, target)
}

// Parse implements adapter.Adapter.
func (t *TikTok) Parse(raw []byte) (ingest.ParsedContent, error) {
	return parseGeneric(ingest.SourceTikTok, raw)
}
