package postgres

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

var now = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, &sequenceIDs{})
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, &sequenceIDs{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, nil)
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, &sequenceIDs{})
	require.EqualError(t, err, "db.dsn is required")
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ingestion_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingestion_runs (id, owner_id, status, flags, created_at)")).
		WithArgs("run-1", "owner", "pending", []byte(`{"force":true}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateRun(context.Background(), ingest.Run{
		ID:        "run-1",
		OwnerID:   "owner",
		Status:    ingest.RunStatusPending,
		Flags:     ingest.Flags{Force: true},
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunDecodesCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := mock.NewRows([]string{
		"id", "owner_id", "status", "flags", "total_jobs", "jobs_ready", "jobs_skipped",
		"jobs_expired", "jobs_failed", "failures", "source_errors", "error_message",
		"created_at", "started_at", "finished_at",
	}).AddRow(
		"run-1", "owner", "ingesting", []byte(`{"use_alt_storage":true}`), 4, 1, 1,
		2, 0, []byte(`{"google":3}`), []byte(`{"amazon":"Request timed out - career site may be slow"}`), "",
		now, &now, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs r WHERE r.id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, ingest.RunStatusIngesting, run.Status)
	assert.True(t, run.Flags.UseAltStorage)
	assert.Equal(t, 4, run.TotalJobs)
	assert.Equal(t, 2, run.JobsExpired)
	assert.Equal(t, map[ingest.Source]int{ingest.SourceGoogle: 3}, run.SourceFailures)
	assert.Equal(t, "Request timed out - career site may be slow", run.SourceErrors[ingest.SourceAmazon])
	require.NotNil(t, run.StartedAt)
	assert.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ingestion_runs r WHERE r.id = $1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestRunTransitionsAreConditional(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_runs SET status = $2, started_at = COALESCE(started_at, $3)")).
		WithArgs("run-1", "initializing", now, []string{"pending", "initializing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $3")).
		WithArgs("run-1", "ingesting", "initializing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_runs SET status = $2, jobs_ready = $3")).
		WithArgs("run-1", "finished", 2, 1, 0, now, "ingesting").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	started, err := store.StartRun(ctx, "run-1", now)
	require.NoError(t, err)
	assert.True(t, started)

	ingesting, err := store.BeginIngesting(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ingesting, "no row matched the expected status")

	finished, err := store.FinishRun(ctx, "run-1", ingest.Counts{Ready: 2, Skipped: 1}, now)
	require.NoError(t, err)
	assert.True(t, finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRunTruncatesMessage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	long := strings.Repeat("x", 700)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_runs SET status = $2, error_message = $3")).
		WithArgs("run-1", "error", strings.Repeat("x", ingest.MaxErrorLength), now, []string{"finished", "error", "aborted"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	failed, err := store.FailRun(context.Background(), "run-1", long, now)
	require.NoError(t, err)
	assert.True(t, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbortRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_runs SET status = $2, finished_at = $3")).
		WithArgs("run-1", "aborted", now, []string{"finished", "error", "aborted"}).
		WillReturnError(errors.New("connection reset"))

	_, err := store.AbortRun(context.Background(), "run-1", now)
	require.ErrorContains(t, err, "abort run")
}

func TestRecordDiscoveryRequiresRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_runs SET total_jobs = $2, jobs_expired = $3")).
		WithArgs("run-1", 5, 1, []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.RecordDiscovery(context.Background(), "run-1", ingest.Discovery{Total: 5, Expired: 1})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestSourceFailureCounters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO run_source_failures (run_id, source, failures)")).
		WithArgs("run-1", "google").
		WillReturnRows(mock.NewRows([]string{"failures"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT failures FROM run_source_failures")).
		WithArgs("run-1", "amazon").
		WillReturnError(pgx.ErrNoRows)

	n, err := store.IncrementSourceFailures(ctx, "run-1", ingest.SourceGoogle)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.SourceFailures(ctx, "run-1", ingest.SourceAmazon)
	require.NoError(t, err)
	assert.Zero(t, n, "no row means no failures yet")
	require.NoError(t, mock.ExpectationsWereMet())
}

type sequenceIDs struct {
	n int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.n++
	return "id-" + strconv.Itoa(s.n), nil
}
