package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

type postingKey struct {
	owner      string
	source     ingest.Source
	externalID string
}

// Store implements the run, posting and settings stores in memory. Every
// transition holds the write lock, so conditional updates behave like the
// row-level conditions of the Postgres store.
type Store struct {
	mu       sync.RWMutex
	ids      ingest.IDGenerator
	seq      int
	runs     map[string]ingest.Run
	postings map[string]ingest.Posting
	byKey    map[postingKey]string
	settings []ingest.SourceSetting
}

// NewStore constructs a Store seeded with static source settings. Posting IDs
// come from ids, or a sequence when ids is nil.
func NewStore(ids ingest.IDGenerator, settings []ingest.SourceSetting) *Store {
	return &Store{
		ids:      ids,
		runs:     make(map[string]ingest.Run),
		postings: make(map[string]ingest.Posting),
		byKey:    make(map[postingKey]string),
		settings: slices.Clone(settings),
	}
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns a copy of the run.
func (s *Store) GetRun(_ context.Context, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.Run{}, fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	return cloneRun(run), nil
}

// StartRun implements ingest.RunStore.
func (s *Store) StartRun(_ context.Context, runID string, at time.Time) (bool, error) {
	return s.transition(runID, func(run *ingest.Run) bool {
		if run.Status != ingest.RunStatusPending && run.Status != ingest.RunStatusInitializing {
			return false
		}
		run.Status = ingest.RunStatusInitializing
		if run.StartedAt == nil {
			run.StartedAt = &at
		}
		return true
	})
}

// RecordDiscovery implements ingest.RunStore.
func (s *Store) RecordDiscovery(_ context.Context, runID string, d ingest.Discovery) error {
	_, err := s.transition(runID, func(run *ingest.Run) bool {
		run.TotalJobs = d.Total
		run.JobsExpired = d.Expired
		run.SourceErrors = maps.Clone(d.SourceErrors)
		return true
	})
	return err
}

// BeginIngesting implements ingest.RunStore.
func (s *Store) BeginIngesting(_ context.Context, runID string) (bool, error) {
	return s.transition(runID, func(run *ingest.Run) bool {
		if run.Status != ingest.RunStatusInitializing {
			return false
		}
		run.Status = ingest.RunStatusIngesting
		return true
	})
}

// FinishRun implements ingest.RunStore.
func (s *Store) FinishRun(_ context.Context, runID string, counts ingest.Counts, at time.Time) (bool, error) {
	return s.transition(runID, func(run *ingest.Run) bool {
		if run.Status != ingest.RunStatusIngesting {
			return false
		}
		run.Status = ingest.RunStatusFinished
		run.JobsReady = counts.Ready
		run.JobsSkipped = counts.Skipped
		run.JobsFailed = counts.Failed
		run.FinishedAt = &at
		return true
	})
}

// FailRun implements ingest.RunStore.
func (s *Store) FailRun(_ context.Context, runID string, message string, at time.Time) (bool, error) {
	return s.transition(runID, func(run *ingest.Run) bool {
		if run.Status.Terminal() {
			return false
		}
		run.Status = ingest.RunStatusError
		run.ErrorMessage = ingest.Truncate(message, ingest.MaxErrorLength)
		run.FinishedAt = &at
		return true
	})
}

// AbortRun implements ingest.RunStore.
func (s *Store) AbortRun(_ context.Context, runID string, at time.Time) (bool, error) {
	return s.transition(runID, func(run *ingest.Run) bool {
		if run.Status.Terminal() {
			return false
		}
		run.Status = ingest.RunStatusAborted
		run.FinishedAt = &at
		return true
	})
}

// IncrementSourceFailures implements ingest.RunStore.
func (s *Store) IncrementSourceFailures(_ context.Context, runID string, source ingest.Source) (int, error) {
	var n int
	_, err := s.transition(runID, func(run *ingest.Run) bool {
		if run.SourceFailures == nil {
			run.SourceFailures = make(map[ingest.Source]int)
		}
		run.SourceFailures[source]++
		n = run.SourceFailures[source]
		return true
	})
	return n, err
}

// SourceFailures implements ingest.RunStore.
func (s *Store) SourceFailures(_ context.Context, runID string, source ingest.Source) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return 0, fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	return run.SourceFailures[source], nil
}

// transition applies fn under the write lock and reports whether it changed
// the run.
func (s *Store) transition(runID string, fn func(run *ingest.Run) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false, fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	if !fn(&run) {
		return false, nil
	}
	s.runs[runID] = run
	return true, nil
}

// EnabledSettings implements ingest.SettingsStore.
func (s *Store) EnabledSettings(_ context.Context, ownerID string) ([]ingest.SourceSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.SourceSetting
	for _, setting := range s.settings {
		if setting.OwnerID == ownerID && setting.Enabled {
			out = append(out, setting)
		}
	}
	return out, nil
}

// OwnersWithEnabledSources implements ingest.SettingsStore.
func (s *Store) OwnersWithEnabledSources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owners []string
	for _, setting := range s.settings {
		if setting.Enabled && !slices.Contains(owners, setting.OwnerID) {
			owners = append(owners, setting.OwnerID)
		}
	}
	slices.Sort(owners)
	return owners, nil
}

func (s *Store) nextID() (string, error) {
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate posting id: %w", err)
		}
		return id, nil
	}
	s.seq++
	return "posting-" + strconv.Itoa(s.seq), nil
}

func cloneRun(run ingest.Run) ingest.Run {
	run.SourceFailures = maps.Clone(run.SourceFailures)
	run.SourceErrors = maps.Clone(run.SourceErrors)
	return run
}
