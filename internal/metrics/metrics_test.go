package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlPostingsTotal == nil || discoveryResultsTotal == nil ||
		httpRequestsTotal == nil || queueDeliveriesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	ObserveCrawl("google", "fetched")
	if val := testutil.ToFloat64(crawlPostingsTotal.WithLabelValues("google", "fetched")); val != 1 {
		t.Errorf("Expected crawl counter to be 1, got %f", val)
	}

	ObserveDiscovery("amazon", 4, nil)
	ObserveDiscovery("amazon", 0, errors.New("timeout"))
	if val := testutil.ToFloat64(discoveredJobsTotal.WithLabelValues("amazon")); val != 4 {
		t.Errorf("Expected 4 discovered jobs, got %f", val)
	}
	if val := testutil.ToFloat64(discoveryResultsTotal.WithLabelValues("amazon", "error")); val != 1 {
		t.Errorf("Expected 1 discovery error, got %f", val)
	}

	IncActiveWorkers("crawl")
	IncActiveWorkers("crawl")
	DecActiveWorkers("crawl")
	if val := testutil.ToFloat64(activeWorkers.WithLabelValues("crawl")); val != 1 {
		t.Errorf("Expected 1 active crawl worker, got %f", val)
	}

	ObserveRateLimitDelay("tiktok", 2*time.Second)
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val != 1 {
		t.Errorf("Expected one rate limit series, got %d", val)
	}
}
