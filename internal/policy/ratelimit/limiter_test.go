package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

func TestLimiterWaitsPerSource(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 leaves ~100ms between requests.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, ingest.SourceGoogle))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, ingest.SourceGoogle))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different source has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, ingest.SourceAmazon))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterOverridesAndUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS: 0,
		PerSource:  map[ingest.Source]float64{ingest.SourceTikTok: 0.001},
	})
	ctx := context.Background()

	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(ctx, ingest.SourceNetflix))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Wait(ctx, ingest.SourceTikTok))
	canceled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorContains(t, l.Wait(canceled, ingest.SourceTikTok), "rate limit wait")
}
