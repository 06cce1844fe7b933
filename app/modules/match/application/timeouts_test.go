package matchservice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	matchtimers "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/timers"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// restart drops the in-memory timers and builds a fresh service over the same
// stores.
func (env *testEnv) restart(t *testing.T) {
	t.Helper()
	env.timers.Stop()
	env.timers = matchtimers.NewRegistry(env.clock, discardLogger())
	t.Cleanup(env.timers.Stop)
	env.svc = env.newService()
}

func TestConfirmationTimers_WarnThenAutoConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)

	env.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool {
		return len(env.effects.Notified(env.user(1), matchdomain.CategoryConfirmReminder)) == 1
	}, waitFor, tick)
	assert.Empty(t, env.effects.Notified(env.user(0), matchdomain.CategoryConfirmReminder))
	require.NotNil(t, env.match(env.semi.ID).WarningSentAt)

	env.clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool {
		return env.match(env.semi.ID).Status == matchdomain.MatchStatusCompleted
	}, waitFor, tick)

	m := env.match(env.semi.ID)
	assert.Equal(t, env.players[0].ID, *m.WinnerID)
	assert.Equal(t, matchdomain.ReasonAutoConfirmed, *m.ResolvedReason)
	assert.Nil(t, m.ConfirmedBy)
	assert.Eventually(t, func() bool {
		return env.match(env.final.ID).HasParticipant(env.players[0].ID)
	}, waitFor, tick)
	assert.Empty(t, env.timers.Pending(env.semi.ID))
	assert.Equal(t, 1, env.metrics.Fired(string(matchtimers.KindWarning), timerSent))
}

func TestAutoConfirm_NoOpOnceSettled(t *testing.T) {
	tests := []struct {
		name   string
		settle func(t *testing.T, env *testEnv)
		want   matchdomain.MatchStatus
	}{
		{
			name: "confirmed",
			settle: func(t *testing.T, env *testEnv) {
				_, err := env.svc.ConfirmScore(context.Background(), env.semi.ID, env.user(1))
				require.NoError(t, err)
			},
			want: matchdomain.MatchStatusCompleted,
		},
		{
			name: "disputed",
			settle: func(t *testing.T, env *testEnv) {
				_, err := env.svc.DisputeScore(context.Background(), DisputeScoreRequest{MatchID: env.semi.ID, UserID: env.user(1), Reason: "no"})
				require.NoError(t, err)
			},
			want: matchdomain.MatchStatusDisputed,
		},
		{
			name: "re-reported with a later deadline",
			settle: func(t *testing.T, env *testEnv) {
				env.clock.Advance(time.Minute)
				env.report(t, env.semi, 1, 3, 0)
			},
			want: matchdomain.MatchStatusAwaitingConfirmation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			deadline := *env.report(t, env.semi, 0, 3, 1).AutoConfirmAt
			tt.settle(t, env)
			before := env.match(env.semi.ID)

			got, err := env.svc.AutoConfirm(context.Background(), env.semi.ID, deadline)
			require.NoError(t, err)

			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, before, env.match(env.semi.ID))
			assert.Equal(t, 1, env.metrics.Fired(string(matchtimers.KindAutoConfirm), timerStale))
		})
	}
}

func TestAutoConfirm_TieLeavesMatchOpen(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 2, 2)

	env.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool { return env.match(env.semi.ID).WarningSentAt != nil }, waitFor, tick)
	env.clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool { return env.metrics.Ties() == 1 }, waitFor, tick)

	m := env.match(env.semi.ID)
	assert.Equal(t, matchdomain.MatchStatusAwaitingConfirmation, m.Status)
	assert.Nil(t, m.AutoConfirmAt)
	assert.Nil(t, m.WinnerID)
	assert.Equal(t, 0, env.match(env.final.ID).Seated())
	assert.Empty(t, env.effects.Notified(env.user(0), matchdomain.CategoryMatchCompleted))

	// the match can still be disputed once the window closed on a tie
	_, err := env.svc.DisputeScore(context.Background(), DisputeScoreRequest{MatchID: m.ID, UserID: env.user(1), Reason: "rematch needed"})
	require.NoError(t, err)
}

func TestRestoreTimers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// semi is inside its window, semi2 expired while the process was down
	env.report(t, env.semi, 0, 3, 1)

	m2 := env.match(env.semi2.ID)
	reporter := env.user(2)
	s1, s2 := 1, 3
	expired := testNow.Add(-time.Minute)
	m2.Status = matchdomain.MatchStatusAwaitingConfirmation
	m2.Participant1Score, m2.Participant2Score = &s1, &s2
	m2.ReportedBy = &reporter
	m2.AutoConfirmAt = &expired
	env.repo.PutMatch(m2)

	env.restart(t)
	assert.Empty(t, env.timers.Pending(env.semi.ID))

	summary, err := env.svc.RestoreTimers(ctx)
	require.NoError(t, err)

	assert.Equal(t, RestoreSummary{Rearmed: 1, Resolved: 1}, summary)
	assert.Equal(t, []matchtimers.Kind{matchtimers.KindAutoConfirm, matchtimers.KindWarning}, env.timers.Pending(env.semi.ID))

	resolved := env.match(env.semi2.ID)
	assert.Equal(t, matchdomain.MatchStatusCompleted, resolved.Status)
	assert.Equal(t, env.players[3].ID, *resolved.WinnerID)
	assert.Equal(t, matchdomain.ReasonAutoConfirmed, *resolved.ResolvedReason)
	assert.True(t, env.match(env.final.ID).HasParticipant(env.players[3].ID))

	// the rearmed deadline is the persisted one
	env.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool { return env.match(env.semi.ID).WarningSentAt != nil }, waitFor, tick)
	env.clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool {
		return env.match(env.semi.ID).Status == matchdomain.MatchStatusCompleted
	}, waitFor, tick)
}

func TestRestoreTimers_WarningAlreadySent(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)

	m := env.match(env.semi.ID)
	sent := testNow
	m.WarningSentAt = &sent
	env.repo.PutMatch(m)

	env.restart(t)
	summary, err := env.svc.RestoreTimers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Rearmed)
	assert.Equal(t, []matchtimers.Kind{matchtimers.KindAutoConfirm}, env.timers.Pending(env.semi.ID))
}

func TestRestoreTimers_WarningInstantPassed(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)

	env.restart(t)
	env.clock.Advance(12 * time.Minute)

	_, err := env.svc.RestoreTimers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []matchtimers.Kind{matchtimers.KindAutoConfirm}, env.timers.Pending(env.semi.ID))
}

// failLocksOnce makes the next row lock fail with a connection error.
func (env *testEnv) failLocksOnce() {
	var calls atomic.Int32
	env.repo.GetMatchForUpdateFn = func(_ context.Context, _ bun.IDB, matchID uuid.UUID) (*matchdb.Match, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("read tcp: connection reset by peer")
		}
		if m := env.repo.Match(matchID); m != nil {
			return m, nil
		}
		return nil, matchdb.ErrNotFound
	}
}

func TestAutoConfirm_RetriesAfterStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)

	env.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool { return env.match(env.semi.ID).WarningSentAt != nil }, waitFor, tick)

	env.failLocksOnce()
	env.clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool {
		return env.metrics.Fired(string(matchtimers.KindAutoConfirm), timerError) == 1
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		return len(env.timers.Pending(env.semi.ID)) == 1
	}, waitFor, tick)
	assert.Equal(t, []matchtimers.Kind{matchtimers.KindAutoConfirm}, env.timers.Pending(env.semi.ID))
	assert.Equal(t, matchdomain.MatchStatusAwaitingConfirmation, env.match(env.semi.ID).Status)

	env.clock.Advance(retryBaseDelay)
	assert.Eventually(t, func() bool {
		return env.match(env.semi.ID).Status == matchdomain.MatchStatusCompleted
	}, waitFor, tick)

	m := env.match(env.semi.ID)
	assert.Equal(t, env.players[0].ID, *m.WinnerID)
	assert.Equal(t, matchdomain.ReasonAutoConfirmed, *m.ResolvedReason)
	assert.Eventually(t, func() bool {
		return env.match(env.final.ID).HasParticipant(env.players[0].ID)
	}, waitFor, tick)
	assert.Empty(t, env.timers.Pending(env.semi.ID))
}

func TestRestoreTimers_RetriesOverdueAfterStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)

	env.restart(t)
	env.clock.Advance(time.Hour)
	env.failLocksOnce()

	summary, err := env.svc.RestoreTimers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RestoreSummary{Failed: 1}, summary)
	assert.Equal(t, matchdomain.MatchStatusAwaitingConfirmation, env.match(env.semi.ID).Status)
	assert.Equal(t, []matchtimers.Kind{matchtimers.KindAutoConfirm}, env.timers.Pending(env.semi.ID))

	env.clock.Advance(retryBaseDelay)
	assert.Eventually(t, func() bool {
		return env.match(env.semi.ID).Status == matchdomain.MatchStatusCompleted
	}, waitFor, tick)
}

func TestAutoConfirm_NotFoundIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.report(t, env.semi, 0, 3, 1)
	env.repo.GetMatchForUpdateFn = func(context.Context, bun.IDB, uuid.UUID) (*matchdb.Match, error) {
		return nil, matchdb.ErrNotFound
	}

	env.clock.Advance(15 * time.Minute)
	assert.Eventually(t, func() bool {
		return env.metrics.Fired(string(matchtimers.KindAutoConfirm), timerError) == 1
	}, waitFor, tick)
	assert.Never(t, func() bool { return len(env.timers.Pending(env.semi.ID)) > 0 }, 50*time.Millisecond, tick)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{failures: 1, want: 30 * time.Second},
		{failures: 2, want: time.Minute},
		{failures: 3, want: 2 * time.Minute},
		{failures: 5, want: 8 * time.Minute},
		{failures: 6, want: 10 * time.Minute},
		{failures: 40, want: 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.failures), "failures=%d", tt.failures)
	}
}
