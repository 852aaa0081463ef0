package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// UpsertDiscovered inserts new postings as pending and resets reappearing
// ones to pending under runID. Fingerprints and parsed fields are kept; a
// repeated external id keeps its first occurrence.
func (s *Store) UpsertDiscovered(
	_ context.Context,
	ownerID string,
	runID string,
	source ingest.Source,
	jobs []ingest.DiscoveredJob,
	at time.Time,
) ([]ingest.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(jobs))
	out := make([]ingest.Posting, 0, len(jobs))
	for _, job := range jobs {
		if seen[job.ExternalID] {
			continue
		}
		seen[job.ExternalID] = true
		key := postingKey{owner: ownerID, source: source, externalID: job.ExternalID}
		id, exists := s.byKey[key]
		var posting ingest.Posting
		if exists {
			posting = s.postings[id]
		} else {
			newID, err := s.nextID()
			if err != nil {
				return nil, err
			}
			posting = ingest.Posting{
				ID:         newID,
				OwnerID:    ownerID,
				Source:     source,
				ExternalID: job.ExternalID,
				CreatedAt:  at,
			}
			s.byKey[key] = newID
		}
		posting.RunID = runID
		posting.URL = job.URL
		posting.Title = job.Title
		posting.Location = job.Location
		posting.Status = ingest.PostingStatusPending
		posting.AwaitingParse = false
		posting.ErrorMessage = ""
		posting.UpdatedAt = at
		s.postings[posting.ID] = posting
		out = append(out, clonePosting(posting))
	}
	return out, nil
}

// ExpireStale implements ingest.PostingStore.
func (s *Store) ExpireStale(_ context.Context, ownerID, runID string, keep []ingest.Source, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, posting := range s.postings {
		if posting.OwnerID != ownerID || posting.RunID == runID {
			continue
		}
		if posting.Status == ingest.PostingStatusExpired || posting.Status == ingest.PostingStatusError {
			continue
		}
		if slices.Contains(keep, posting.Source) {
			continue
		}
		posting.Status = ingest.PostingStatusExpired
		posting.AwaitingParse = false
		posting.UpdatedAt = at
		s.postings[id] = posting
		expired++
	}
	return expired, nil
}

// GetPosting implements ingest.PostingStore.
func (s *Store) GetPosting(_ context.Context, postingID string) (ingest.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	posting, ok := s.postings[postingID]
	if !ok {
		return ingest.Posting{}, fmt.Errorf("posting %s: %w", postingID, ingest.ErrNotFound)
	}
	return clonePosting(posting), nil
}

// FindPosting implements ingest.PostingStore.
func (s *Store) FindPosting(
	_ context.Context,
	ownerID string,
	source ingest.Source,
	externalID string,
) (ingest.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[postingKey{owner: ownerID, source: source, externalID: externalID}]
	if !ok {
		return ingest.Posting{}, fmt.Errorf("posting %s/%s: %w", source, externalID, ingest.ErrNotFound)
	}
	return clonePosting(s.postings[id]), nil
}

// MarkSkipped implements ingest.PostingStore.
func (s *Store) MarkSkipped(_ context.Context, postingID string, fingerprint uint64, at time.Time) error {
	return s.updatePosting(postingID, at, func(p *ingest.Posting) {
		p.Status = ingest.PostingStatusSkipped
		p.Fingerprint = &fingerprint
		p.AwaitingParse = false
		p.ErrorMessage = ""
	})
}

// MarkFetched implements ingest.PostingStore.
func (s *Store) MarkFetched(
	_ context.Context,
	postingID string,
	fingerprint uint64,
	rawURI string,
	at time.Time,
) error {
	return s.updatePosting(postingID, at, func(p *ingest.Posting) {
		p.Status = ingest.PostingStatusReady
		p.Fingerprint = &fingerprint
		p.RawContentURI = rawURI
		p.AwaitingParse = true
		p.ErrorMessage = ""
	})
}

// MarkParsed implements ingest.PostingStore.
func (s *Store) MarkParsed(_ context.Context, postingID string, content ingest.ParsedContent, at time.Time) error {
	return s.updatePosting(postingID, at, func(p *ingest.Posting) {
		p.Status = ingest.PostingStatusReady
		p.Description = content.Description
		p.Requirements = content.Requirements
		p.AwaitingParse = false
		p.ErrorMessage = ""
	})
}

// MarkFailed implements ingest.PostingStore.
func (s *Store) MarkFailed(_ context.Context, postingID string, message string, at time.Time) error {
	return s.updatePosting(postingID, at, func(p *ingest.Posting) {
		p.Status = ingest.PostingStatusError
		p.ErrorMessage = ingest.Truncate(message, ingest.MaxErrorLength)
		p.AwaitingParse = false
	})
}

// CountByStatus implements ingest.PostingStore.
func (s *Store) CountByStatus(_ context.Context, runID string) (ingest.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts ingest.Counts
	for _, p := range s.postings {
		if p.RunID != runID {
			continue
		}
		switch p.Status {
		case ingest.PostingStatusPending:
			counts.Pending++
		case ingest.PostingStatusReady:
			if p.AwaitingParse {
				counts.Pending++
			} else {
				counts.Ready++
			}
		case ingest.PostingStatusSkipped:
			counts.Skipped++
		case ingest.PostingStatusError:
			counts.Failed++
		case ingest.PostingStatusExpired:
		}
	}
	return counts, nil
}

// ListByRun returns the run's postings ordered by source then external id.
func (s *Store) ListByRun(_ context.Context, runID string) ([]ingest.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Posting
	for _, p := range s.postings {
		if p.RunID == runID {
			out = append(out, clonePosting(p))
		}
	}
	slices.SortFunc(out, func(a, b ingest.Posting) int {
		return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.ExternalID, b.ExternalID))
	})
	return out, nil
}

func (s *Store) updatePosting(postingID string, at time.Time, fn func(p *ingest.Posting)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	posting, ok := s.postings[postingID]
	if !ok {
		return fmt.Errorf("posting %s: %w", postingID, ingest.ErrNotFound)
	}
	fn(&posting)
	posting.UpdatedAt = at
	s.postings[postingID] = posting
	return nil
}

func clonePosting(p ingest.Posting) ingest.Posting {
	if p.Fingerprint != nil {
		fp := *p.Fingerprint
		p.Fingerprint = &fp
	}
	return p
}
