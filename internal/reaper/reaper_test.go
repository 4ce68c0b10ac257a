package reaper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/huddle/internal/reaper"
	"github.com/daap14/huddle/internal/team"
)

// --- Mock Expirer ---

type mockExpirer struct {
	mu       sync.Mutex
	expireFn func(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	cutoffs  []time.Time
}

func (m *mockExpirer) ExpireIdle(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	m.cutoffs = append(m.cutoffs, cutoff)
	m.mu.Unlock()
	if m.expireFn != nil {
		return m.expireFn(ctx, cutoff)
	}
	return nil, nil
}

func (m *mockExpirer) getCutoffs() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]time.Time, len(m.cutoffs))
	copy(result, m.cutoffs)
	return result
}

func TestReaper_SweepsWithIdleCutoff(t *testing.T) {
	// Arrange
	store := &mockExpirer{}
	r := reaper.New(store, 20*time.Millisecond, 30*time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	// Act: run a few ticks
	before := time.Now()
	go r.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	// Assert
	cutoffs := store.getCutoffs()
	require.GreaterOrEqual(t, len(cutoffs), 1)
	for _, c := range cutoffs {
		assert.WithinDuration(t, before.Add(-30*time.Minute), c, time.Second)
	}
}

func TestReaper_KeepsRunningAfterErrors(t *testing.T) {
	store := &mockExpirer{
		expireFn: func(context.Context, time.Time) ([]uuid.UUID, error) {
			return nil, errors.New("connection reset")
		},
	}
	r := reaper.New(store, 10*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	go r.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()

	assert.GreaterOrEqual(t, len(store.getCutoffs()), 2)
}

func TestReaper_StopsOnCancel(t *testing.T) {
	store := &mockExpirer{}
	r := reaper.New(store, time.Hour, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
	assert.Empty(t, store.getCutoffs())
}

func TestReaper_FinishesAbandonedLobbies(t *testing.T) {
	repo := team.NewMemoryRepository(nil)
	tm, _, err := repo.CreateTeam(context.Background(), team.NewMember{Name: "alice", TokenPrefix: "p", TokenHash: "h"})
	require.NoError(t, err)

	// A negative idle timeout puts the cutoff in the future, so every lobby is idle.
	r := reaper.New(repo, 10*time.Millisecond, -time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	assert.Eventually(t, func() bool {
		got, err := repo.GetTeam(context.Background(), tm.ID)
		return err == nil && got.Status == team.StatusFinished
	}, time.Second, 10*time.Millisecond)
	cancel()
}
