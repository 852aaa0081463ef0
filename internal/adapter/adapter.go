// Package adapter defines the per-source extraction capability and the
// helpers shared by every source implementation.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// ErrUnknownSource is returned when no adapter is registered for a source.
var ErrUnknownSource = errors.New("unknown source")

// Adapter lists, fetches and parses postings for one career site. Adapters
// never retry; callers own retry policy.
type Adapter interface {
	Source() ingest.Source
	// Discover lists every posting currently visible and applies filter.
	// Failures after the first page yield a partial result and a nil error.
	Discover(ctx context.Context, filter ingest.TitleFilter) (ingest.DiscoverResult, error)
	FetchContent(ctx context.Context, url string) ([]byte, error)
	// Parse fails with *ingest.ParseError when the expected structure is absent.
	Parse(raw []byte) (ingest.ParsedContent, error)
}

// Registry maps sources to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ingest.Source]Adapter
}

// NewRegistry builds a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ingest.Source]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Source().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Source()] = a
}

// Get returns the adapter for source.
func (r *Registry) Get(source ingest.Source) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return a, nil
}

// Sources lists registered sources in lexical order.
func (r *Registry) Sources() []ingest.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ingest.Source, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
