package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/simhash"
)

const postingColumns = `id, owner_id, run_id, source, external_id, url, status, title,
	COALESCE(location, ''), COALESCE(description, ''), COALESCE(requirements, ''), fingerprint,
	COALESCE(raw_content_uri, ''), awaiting_parse, COALESCE(error_message, ''), created_at, updated_at`

// UpsertDiscovered implements ingest.PostingStore in one statement. New rows
// take the generated ids; existing rows keep theirs along with their
// fingerprint and parsed fields.
func (s *Store) UpsertDiscovered(
	ctx context.Context,
	ownerID string,
	runID string,
	source ingest.Source,
	jobs []ingest.DiscoveredJob,
	at time.Time,
) ([]ingest.Posting, error) {
	seen := make(map[string]bool, len(jobs))
	var ids, externalIDs, urls, titles, locations []string
	for _, job := range jobs {
		if seen[job.ExternalID] {
			continue
		}
		seen[job.ExternalID] = true
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate posting id: %w", err)
		}
		ids = append(ids, id)
		externalIDs = append(externalIDs, job.ExternalID)
		urls = append(urls, job.URL)
		titles = append(titles, job.Title)
		locations = append(locations, job.Location)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
INSERT INTO job_postings (id, owner_id, run_id, source, external_id, url, title, location, status, awaiting_parse, created_at, updated_at)
SELECT j.id, $1, $2, $3, j.external_id, j.url, j.title, j.location, $4, FALSE, $5, $5
FROM unnest($6::text[], $7::text[], $8::text[], $9::text[], $10::text[]) AS j(id, external_id, url, title, location)
ON CONFLICT (owner_id, source, external_id) DO UPDATE SET
	run_id = EXCLUDED.run_id, url = EXCLUDED.url, title = EXCLUDED.title, location = EXCLUDED.location,
	status = EXCLUDED.status, awaiting_parse = FALSE, error_message = NULL, updated_at = EXCLUDED.updated_at
RETURNING `+postingColumns,
		ownerID,
		runID,
		string(source),
		string(ingest.PostingStatusPending),
		at,
		ids,
		externalIDs,
		urls,
		titles,
		locations,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert postings: %w", err)
	}
	postings, err := collectPostings(rows)
	if err != nil {
		return nil, fmt.Errorf("upsert postings: %w", err)
	}
	return postings, nil
}

// ExpireStale implements ingest.PostingStore.
func (s *Store) ExpireStale(ctx context.Context, ownerID, runID string, keep []ingest.Source, at time.Time) (int, error) {
	kept := make([]string, 0, len(keep))
	for _, source := range keep {
		kept = append(kept, string(source))
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings SET status = $3, awaiting_parse = FALSE, updated_at = $4
WHERE owner_id = $1 AND run_id <> $2 AND NOT (status = ANY($5)) AND NOT (source = ANY($6))`,
		ownerID,
		runID,
		string(ingest.PostingStatusExpired),
		at,
		[]string{string(ingest.PostingStatusExpired), string(ingest.PostingStatusError)},
		kept,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale postings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetPosting implements ingest.PostingStore.
func (s *Store) GetPosting(ctx context.Context, postingID string) (ingest.Posting, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE id = $1`, postingID)
	posting, err := scanPosting(row)
	if err != nil {
		return ingest.Posting{}, fmt.Errorf("get posting %s: %w", postingID, notFound(err, "posting"))
	}
	return posting, nil
}

// FindPosting implements ingest.PostingStore.
func (s *Store) FindPosting(
	ctx context.Context,
	ownerID string,
	source ingest.Source,
	externalID string,
) (ingest.Posting, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+`
FROM job_postings WHERE owner_id = $1 AND source = $2 AND external_id = $3`,
		ownerID, string(source), externalID,
	)
	posting, err := scanPosting(row)
	if err != nil {
		return ingest.Posting{}, fmt.Errorf("find posting %s/%s: %w", source, externalID, notFound(err, "posting"))
	}
	return posting, nil
}

// MarkSkipped implements ingest.PostingStore.
func (s *Store) MarkSkipped(ctx context.Context, postingID string, fingerprint uint64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings SET status = $2, fingerprint = $3, awaiting_parse = FALSE, error_message = NULL, updated_at = $4
WHERE id = $1`,
		postingID, string(ingest.PostingStatusSkipped), simhash.ToInt64(fingerprint), at,
	)
	return postingUpdated("mark skipped", postingID, tag, err)
}

// MarkFetched implements ingest.PostingStore.
func (s *Store) MarkFetched(
	ctx context.Context,
	postingID string,
	fingerprint uint64,
	rawURI string,
	at time.Time,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings SET status = $2, fingerprint = $3, raw_content_uri = $4, awaiting_parse = TRUE,
	error_message = NULL, updated_at = $5
WHERE id = $1`,
		postingID, string(ingest.PostingStatusReady), simhash.ToInt64(fingerprint), rawURI, at,
	)
	return postingUpdated("mark fetched", postingID, tag, err)
}

// MarkParsed implements ingest.PostingStore.
func (s *Store) MarkParsed(ctx context.Context, postingID string, content ingest.ParsedContent, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings SET status = $2, description = $3, requirements = $4, awaiting_parse = FALSE,
	error_message = NULL, updated_at = $5
WHERE id = $1`,
		postingID, string(ingest.PostingStatusReady), content.Description, content.Requirements, at,
	)
	return postingUpdated("mark parsed", postingID, tag, err)
}

// MarkFailed implements ingest.PostingStore.
func (s *Store) MarkFailed(ctx context.Context, postingID string, message string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_postings SET status = $2, error_message = $3, awaiting_parse = FALSE, updated_at = $4
WHERE id = $1`,
		postingID, string(ingest.PostingStatusError), ingest.Truncate(message, ingest.MaxErrorLength), at,
	)
	return postingUpdated("mark failed", postingID, tag, err)
}

func postingUpdated(op, postingID string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: posting %s: %w", op, postingID, ingest.ErrNotFound)
	}
	return nil
}

// CountByStatus implements ingest.PostingStore. Fetched postings still
// awaiting extraction count as pending.
func (s *Store) CountByStatus(ctx context.Context, runID string) (ingest.Counts, error) {
	var counts ingest.Counts
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status = $2 OR (status = $3 AND awaiting_parse)),
	COUNT(*) FILTER (WHERE status = $3 AND NOT awaiting_parse),
	COUNT(*) FILTER (WHERE status = $4),
	COUNT(*) FILTER (WHERE status = $5)
FROM job_postings WHERE run_id = $1`,
		runID,
		string(ingest.PostingStatusPending),
		string(ingest.PostingStatusReady),
		string(ingest.PostingStatusSkipped),
		string(ingest.PostingStatusError),
	).Scan(&counts.Pending, &counts.Ready, &counts.Skipped, &counts.Failed)
	if err != nil {
		return ingest.Counts{}, fmt.Errorf("count postings: %w", err)
	}
	return counts, nil
}

// ListByRun returns the run's postings ordered by source then external id.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]ingest.Posting, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+postingColumns+`
FROM job_postings WHERE run_id = $1 ORDER BY source, external_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	postings, err := collectPostings(rows)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	return postings, nil
}

func collectPostings(rows pgx.Rows) ([]ingest.Posting, error) {
	defer rows.Close()
	var postings []ingest.Posting
	for rows.Next() {
		posting, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting row: %w", err)
		}
		postings = append(postings, posting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return postings, nil
}

func scanPosting(row pgx.Row) (ingest.Posting, error) {
	var (
		p              ingest.Posting
		source, status string
		fingerprint    *int64
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.RunID,
		&source,
		&p.ExternalID,
		&p.URL,
		&status,
		&p.Title,
		&p.Location,
		&p.Description,
		&p.Requirements,
		&fingerprint,
		&p.RawContentURI,
		&p.AwaitingParse,
		&p.ErrorMessage,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return ingest.Posting{}, err
	}
	p.Source = ingest.Source(source)
	p.Status = ingest.PostingStatus(status)
	if fingerprint != nil {
		fp := simhash.FromInt64(*fingerprint)
		p.Fingerprint = &fp
	}
	return p, nil
}
