package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/simhash"
)

var postingColumnNames = []string{
	"id", "owner_id", "run_id", "source", "external_id", "url", "status", "title",
	"location", "description", "requirements", "fingerprint",
	"raw_content_uri", "awaiting_parse", "error_message", "created_at", "updated_at",
}

func TestUpsertDiscoveredDedupesAndReturnsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fp := simhash.ToInt64(1 << 63)
	rows := mock.NewRows(postingColumnNames).
		AddRow("id-1", "owner", "run-2", "google", "g-1", "https://g/1", "pending", "Engineer",
			"", "old description", "", &fp, "gs://b/raw/google/g-1.html", false, "", now, now).
		AddRow("id-2", "owner", "run-2", "google", "g-2", "https://g/2", "pending", "Analyst",
			"NYC", "", "", nil, "", false, "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (owner_id, source, external_id) DO UPDATE SET")).
		WithArgs(
			"owner", "run-2", "google", "pending", now,
			[]string{"id-1", "id-2"},
			[]string{"g-1", "g-2"},
			[]string{"https://g/1", "https://g/2"},
			[]string{"Engineer", "Analyst"},
			[]string{"", "NYC"},
		).
		WillReturnRows(rows)

	postings, err := store.UpsertDiscovered(context.Background(), "owner", "run-2", ingest.SourceGoogle, []ingest.DiscoveredJob{
		{ExternalID: "g-1", Title: "Engineer", URL: "https://g/1"},
		{ExternalID: "g-2", Title: "Analyst", URL: "https://g/2", Location: "NYC"},
		{ExternalID: "g-1", Title: "Engineer (dup)", URL: "https://g/1"},
	}, now)
	require.NoError(t, err)
	require.Len(t, postings, 2)

	first := postings[0]
	assert.Equal(t, ingest.SourceGoogle, first.Source)
	assert.Equal(t, ingest.PostingStatusPending, first.Status)
	require.NotNil(t, first.Fingerprint)
	assert.Equal(t, uint64(1<<63), *first.Fingerprint, "fingerprint survives the signed column")
	assert.Equal(t, "old description", first.Description)
	assert.Nil(t, postings[1].Fingerprint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiscoveredWithoutJobsSkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	postings, err := store.UpsertDiscovered(context.Background(), "owner", "run-1", ingest.SourceGoogle, nil, now)
	require.NoError(t, err)
	assert.Empty(t, postings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStaleKeepsFailedSources(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("NOT (source = ANY($6))")).
		WithArgs("owner", "run-2", "expired", now, []string{"expired", "error"}, []string{"amazon"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := store.ExpireStale(context.Background(), "owner", "run-2", []ingest.Source{ingest.SourceAmazon}, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPostingNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 AND source = $2 AND external_id = $3")).
		WithArgs("owner", "google", "g-9").
		WillReturnRows(mock.NewRows(postingColumnNames))

	_, err := store.FindPosting(context.Background(), "owner", ingest.SourceGoogle, "g-9")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingTransitions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	fp := uint64(0xfeedface)

	mock.ExpectExec(regexp.QuoteMeta("raw_content_uri = $4, awaiting_parse = TRUE")).
		WithArgs("id-1", "ready", simhash.ToInt64(fp), "gs://b/raw/google/g-1.html", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("description = $3, requirements = $4")).
		WithArgs("id-1", "ready", "desc", "reqs", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = $2, fingerprint = $3, awaiting_parse = FALSE")).
		WithArgs("id-2", "skipped", simhash.ToInt64(fp), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = $2, error_message = $3, awaiting_parse = FALSE")).
		WithArgs("id-3", "error", "Circuit breaker: too many failures", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkFetched(ctx, "id-1", fp, "gs://b/raw/google/g-1.html", now))
	require.NoError(t, store.MarkParsed(ctx, "id-1", ingest.ParsedContent{Description: "desc", Requirements: "reqs"}, now))
	require.NoError(t, store.MarkSkipped(ctx, "id-2", fp, now))
	err := store.MarkFailed(ctx, "id-3", "Circuit breaker: too many failures", now)
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatusTreatsAwaitingParseAsPending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = $2 OR (status = $3 AND awaiting_parse))")).
		WithArgs("run-1", "pending", "ready", "skipped", "error").
		WillReturnRows(mock.NewRows([]string{"pending", "ready", "skipped", "failed"}).AddRow(2, 5, 1, 3))

	counts, err := store.CountByStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, ingest.Counts{Pending: 2, Ready: 5, Skipped: 1, Failed: 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByRunOrdersRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY source, external_id")).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows(postingColumnNames).
			AddRow("id-1", "owner", "run-1", "amazon", "a-1", "https://a/1", "error", "SDE",
				"", "", "", nil, "", false, "HTTP error: 418", now, now))

	postings, err := store.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, ingest.PostingStatusError, postings[0].Status)
	assert.Equal(t, "HTTP error: 418", postings[0].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsQueries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery(regexp.QuoteMeta("FROM source_settings WHERE owner_id = $1 AND is_enabled")).
		WithArgs("owner").
		WillReturnRows(mock.NewRows([]string{"owner_id", "source", "include_titles", "exclude_titles"}).
			AddRow("owner", "google", []string{"engineer"}, []string{"manager"}).
			AddRow("owner", "openai", nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT owner_id FROM source_settings")).
		WillReturnRows(mock.NewRows([]string{"owner_id"}).AddRow("a").AddRow("b"))

	settings, err := store.EnabledSettings(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, ingest.SourceGoogle, settings[0].Source)
	assert.Equal(t, []string{"engineer"}, settings[0].Filter.Include)
	assert.True(t, settings[0].Enabled)
	assert.Nil(t, settings[1].Filter.Include, "null include matches every title")

	owners, err := store.OwnersWithEnabledSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, owners)
	require.NoError(t, mock.ExpectationsWereMet())
}
