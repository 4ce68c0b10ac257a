package team_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/huddle/internal/code"
	"github.com/daap14/huddle/internal/team"
)

type repoFactory func(t *testing.T, opts ...team.Option) team.Repository

func newMember(name string) team.NewMember {
	return team.NewMember{Name: name, TokenPrefix: "hdl_" + name, TokenHash: "hash-" + name}
}

func sequence(codes ...string) code.Generator {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c
	}
}

// testRepositoryContract exercises behavior every Repository must share.
func testRepositoryContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()

	t.Run("create makes a waiting team led by the creator", func(t *testing.T) {
		repo := newRepo(t)

		tm, leader, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, tm.ID)
		assert.True(t, code.Valid(tm.Code), "code %q", tm.Code)
		assert.Equal(t, team.StatusWaiting, tm.Status)
		assert.Equal(t, "alice", tm.LeaderName)
		assert.Nil(t, tm.StartedAt)
		assert.True(t, leader.IsLeader)
		assert.Equal(t, tm.ID, leader.TeamID)

		members, err := repo.ListMembers(ctx, tm.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, leader.ID, members[0].ID)
	})

	t.Run("join appends members in order", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		joined, bob, err := repo.JoinTeam(ctx, tm.Code, newMember("bob"))
		require.NoError(t, err)
		assert.Equal(t, tm.ID, joined.ID)
		assert.False(t, bob.IsLeader)

		_, _, err = repo.JoinTeam(ctx, tm.Code, newMember("carol"))
		require.NoError(t, err)

		members, err := repo.ListMembers(ctx, tm.ID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, []string{"alice", "bob", "carol"}, []string{members[0].Name, members[1].Name, members[2].Name})

		n, err := repo.CountMembers(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("join with unknown code", func(t *testing.T) {
		repo := newRepo(t)

		_, _, err := repo.JoinTeam(ctx, "ZZZZZZ", newMember("bob"))
		assert.ErrorIs(t, err, team.ErrTeamNotFound)
	})

	t.Run("names are unique per team ignoring case", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("Alice"))
		require.NoError(t, err)

		_, _, err = repo.JoinTeam(ctx, tm.Code, newMember("alice"))
		assert.ErrorIs(t, err, team.ErrDuplicateName)

		n, err := repo.CountMembers(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent joins with the same name admit one", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = repo.JoinTeam(ctx, tm.Code, newMember("bob"))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, team.ErrDuplicateName)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("start transitions once", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		started, err := repo.StartTeam(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, team.StatusPlaying, started.Status)
		require.NotNil(t, started.StartedAt)

		_, err = repo.StartTeam(ctx, tm.ID)
		assert.ErrorIs(t, err, team.ErrNotWaiting)

		_, err = repo.StartTeam(ctx, uuid.New())
		assert.ErrorIs(t, err, team.ErrTeamNotFound)
	})

	t.Run("concurrent starts have one winner", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.StartTeam(ctx, tm.ID)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, team.ErrNotWaiting)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("membership is frozen once started", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)
		_, _, err = repo.JoinTeam(ctx, tm.Code, newMember("bob"))
		require.NoError(t, err)
		_, err = repo.StartTeam(ctx, tm.ID)
		require.NoError(t, err)

		_, _, err = repo.JoinTeam(ctx, tm.Code, newMember("carol"))
		assert.ErrorIs(t, err, team.ErrTeamNotFound)

		n, err := repo.CountMembers(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("finish requires playing", func(t *testing.T) {
		repo := newRepo(t)
		tm, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		_, err = repo.FinishTeam(ctx, tm.ID)
		assert.ErrorIs(t, err, team.ErrNotWaiting)

		_, err = repo.StartTeam(ctx, tm.ID)
		require.NoError(t, err)

		finished, err := repo.FinishTeam(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, team.StatusFinished, finished.Status)
		assert.NotNil(t, finished.FinishedAt)
	})

	t.Run("code collision retries with a fresh code", func(t *testing.T) {
		repo := newRepo(t, team.WithCodeGenerator(sequence("AAAAAA", "AAAAAA", "BBBBBB")))

		first, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)
		second, _, err := repo.CreateTeam(ctx, newMember("bob"))
		require.NoError(t, err)

		assert.Equal(t, "AAAAAA", first.Code)
		assert.Equal(t, "BBBBBB", second.Code)
	})

	t.Run("code space exhausted", func(t *testing.T) {
		repo := newRepo(t, team.WithCodeGenerator(sequence("AAAAAA")), team.WithCodeAttempts(3))

		_, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		_, _, err = repo.CreateTeam(ctx, newMember("bob"))
		assert.ErrorIs(t, err, team.ErrCodeSpaceExhausted)
	})

	t.Run("codes are reusable once the team leaves waiting", func(t *testing.T) {
		repo := newRepo(t, team.WithCodeGenerator(sequence("AAAAAA")))

		first, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)
		_, err = repo.StartTeam(ctx, first.ID)
		require.NoError(t, err)

		second, _, err := repo.CreateTeam(ctx, newMember("bob"))
		require.NoError(t, err)
		assert.Equal(t, "AAAAAA", second.Code)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("credentials are found by prefix", func(t *testing.T) {
		repo := newRepo(t)
		tm, leader, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		creds, err := repo.FindByTokenPrefix(ctx, "hdl_alice")
		require.NoError(t, err)
		require.Len(t, creds, 1)
		assert.Equal(t, leader.ID, creds[0].MemberID)
		assert.Equal(t, tm.ID, creds[0].TeamID)
		assert.True(t, creds[0].IsLeader)
		assert.Equal(t, "hash-alice", creds[0].TokenHash)

		creds, err = repo.FindByTokenPrefix(ctx, "hdl_nobody")
		require.NoError(t, err)
		assert.Empty(t, creds)
	})

	t.Run("touch unknown member", func(t *testing.T) {
		repo := newRepo(t)

		err := repo.TouchMember(ctx, uuid.New(), time.Now())
		assert.ErrorIs(t, err, team.ErrMemberNotFound)
	})

	t.Run("idle waiting teams expire", func(t *testing.T) {
		repo := newRepo(t)
		idle, _, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)
		playing, _, err := repo.CreateTeam(ctx, newMember("bob"))
		require.NoError(t, err)
		_, err = repo.StartTeam(ctx, playing.ID)
		require.NoError(t, err)

		expired, err := repo.ExpireIdle(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, expired)

		expired, err = repo.ExpireIdle(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{idle.ID}, expired)

		got, err := repo.GetTeam(ctx, idle.ID)
		require.NoError(t, err)
		assert.Equal(t, team.StatusFinished, got.Status)

		got, err = repo.GetTeam(ctx, playing.ID)
		require.NoError(t, err)
		assert.Equal(t, team.StatusPlaying, got.Status)
	})

	t.Run("touched members keep the lobby alive", func(t *testing.T) {
		repo := newRepo(t)
		tm, leader, err := repo.CreateTeam(ctx, newMember("alice"))
		require.NoError(t, err)

		cutoff := time.Now().Add(time.Minute)
		require.NoError(t, repo.TouchMember(ctx, leader.ID, cutoff.Add(time.Second)))

		expired, err := repo.ExpireIdle(ctx, cutoff)
		require.NoError(t, err)
		assert.Empty(t, expired)

		got, err := repo.GetTeam(ctx, tm.ID)
		require.NoError(t, err)
		assert.Equal(t, team.StatusWaiting, got.Status)
	})
}
