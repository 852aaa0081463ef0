package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// ErrUnavailable is returned when headless rendering is disabled.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop stands in for the browser fetcher when headless rendering is off.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrUnavailable.
func (Noop) Fetch(_ context.Context, _ ingest.FetchRequest) (ingest.FetchResponse, error) {
	return ingest.FetchResponse{}, ErrUnavailable
}
