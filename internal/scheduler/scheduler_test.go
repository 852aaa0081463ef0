package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New("every tuesday", &fakeSettings{}, &fakeTrigger{}, zap.NewNop())
	require.Error(t, err)
}

func TestTickTriggersEachOwner(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{fail: map[string]bool{"b": true}}
	s, err := New("0 6 * * *", &fakeSettings{owners: []string{"a", "b", "c"}}, trigger, zap.NewNop())
	require.NoError(t, err)

	n := s.Tick(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b", "c"}, trigger.calls())
}

func TestTickSurvivesSettingsError(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{}
	s, err := New("@daily", &fakeSettings{err: errors.New("db down")}, trigger, zap.NewNop())
	require.NoError(t, err)

	assert.Zero(t, s.Tick(context.Background()))
	assert.Empty(t, trigger.calls())
}

func TestStartFiresOnSchedule(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{}
	s, err := New("@every 1s", &fakeSettings{owners: []string{"owner-1"}}, trigger, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(trigger.calls()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "owner-1", trigger.calls()[0])
}

type fakeSettings struct {
	owners []string
	err    error
}

func (f *fakeSettings) EnabledSettings(context.Context, string) ([]ingest.SourceSetting, error) {
	return nil, nil
}

func (f *fakeSettings) OwnersWithEnabledSources(context.Context) ([]string, error) {
	return f.owners, f.err
}

type fakeTrigger struct {
	mu     sync.Mutex
	owners []string
	fail   map[string]bool
}

func (f *fakeTrigger) Trigger(_ context.Context, ownerID string, flags ingest.Flags) (ingest.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, ownerID)
	if f.fail[ownerID] {
		return ingest.Run{}, errors.New("queue full")
	}
	return ingest.Run{ID: "run-" + ownerID, OwnerID: ownerID, Flags: flags}, nil
}

func (f *fakeTrigger) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.owners...)
}
