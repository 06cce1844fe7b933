package matchintegrationtests

import (
	"errors"
	"testing"
	"time"

	matchservice "github.com/Black-And-White-Club/matchflow/app/modules/match/application"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/integration_tests/testutils"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 15 * time.Second
	tick    = 50 * time.Millisecond
)

// fourPlayerBracket seeds and generates a four entrant bracket starting now.
func (h *harness) fourPlayerBracket(t *testing.T) (*matchdb.Tournament, map[string]*matchdb.Match, map[string]*matchdb.Participant) {
	t.Helper()
	tournament, players, err := h.data.SeedTournament(h.ctx, testEnv.DB, h.clock.Now().Add(-10*time.Minute), 4)
	require.NoError(t, err)

	matches, err := h.service.GenerateBracket(h.ctx, tournament.ID)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	byID := make(map[string]*matchdb.Participant, len(players))
	for _, p := range players {
		byID[p.ID.String()] = p
	}
	named := map[string]*matchdb.Match{}
	for _, m := range matches {
		switch {
		case m.RoundNumber == 2:
			named["final"] = m
		case m.MatchNumber == 1:
			named["semi"] = m
		default:
			named["semi2"] = m
		}
	}
	return tournament, named, byID
}

func seatedUsers(t *testing.T, m *matchdb.Match, players map[string]*matchdb.Participant) (*matchdb.Participant, *matchdb.Participant) {
	t.Helper()
	require.NotNil(t, m.Participant1ID)
	require.NotNil(t, m.Participant2ID)
	return players[m.Participant1ID.String()], players[m.Participant2ID.String()]
}

func TestMatchLifecycle_ReportConfirmAdvance(t *testing.T) {
	h := newHarness(t)
	_, matches, players := h.fourPlayerBracket(t)
	p1, p2 := seatedUsers(t, matches["semi"], players)

	sub, err := testEnv.NatsConn.SubscribeSync(notify.TopicPrefix + ">")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	reported, err := h.service.ReportScore(h.ctx, matchservice.ReportScoreRequest{
		MatchID:           matches["semi"].ID,
		ReporterUserID:    p1.UserID,
		Participant1Score: 3,
		Participant2Score: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, matchdomain.MatchStatusAwaitingConfirmation, reported.Status)
	require.NotNil(t, reported.AutoConfirmAt)

	confirmed, err := h.service.ConfirmScore(h.ctx, matches["semi"].ID, p2.UserID)
	require.NoError(t, err)
	assert.Equal(t, matchdomain.MatchStatusCompleted, confirmed.Status)
	assert.Nil(t, confirmed.AutoConfirmAt)
	require.NotNil(t, confirmed.WinnerID)
	assert.Equal(t, p1.ID, *confirmed.WinnerID)
	assert.Empty(t, h.timers.Pending(matches["semi"].ID))

	final, err := h.repo.GetMatch(h.ctx, nil, matches["final"].ID)
	require.NoError(t, err)
	assert.True(t, final.HasParticipant(p1.ID))

	queued, err := testutils.CountJobs(h.ctx, testEnv.DB, "match_notification")
	require.NoError(t, err)
	assert.Positive(t, queued)

	// River delivers the queued notifications over NATS once workers run.
	h.startQueue(t)
	subjects := map[string]bool{}
	assert.Eventually(t, func() bool {
		msg, err := sub.NextMsg(tick)
		if err == nil {
			subjects[msg.Subject] = true
		} else if !errors.Is(err, nats.ErrTimeout) {
			return false
		}
		return subjects[notify.Topic(p2.UserID)] && subjects[notify.Topic(p1.UserID)]
	}, waitFor, tick)
}

func TestMatchLifecycle_AutoConfirmAfterDeadline(t *testing.T) {
	h := newHarness(t)
	_, matches, players := h.fourPlayerBracket(t)
	p1, _ := seatedUsers(t, matches["semi"], players)

	_, err := h.service.ReportScore(h.ctx, matchservice.ReportScoreRequest{
		MatchID:           matches["semi"].ID,
		ReporterUserID:    p1.UserID,
		Participant1Score: 0,
		Participant2Score: 2,
	})
	require.NoError(t, err)

	h.clock.Advance(matchservice.DefaultTimings.WarningAfter)
	assert.Eventually(t, func() bool {
		m, err := h.repo.GetMatch(h.ctx, nil, matches["semi"].ID)
		return err == nil && m.WarningSentAt != nil
	}, waitFor, tick)

	h.clock.Advance(matchservice.DefaultTimings.ConfirmWindow - matchservice.DefaultTimings.WarningAfter)
	var settled *matchdb.Match
	assert.Eventually(t, func() bool {
		m, err := h.repo.GetMatch(h.ctx, nil, matches["semi"].ID)
		if err != nil || m.Status != matchdomain.MatchStatusCompleted {
			return false
		}
		settled = m
		return true
	}, waitFor, tick)

	require.NotNil(t, settled)
	require.NotNil(t, settled.ResolvedReason)
	assert.Equal(t, matchdomain.ReasonAutoConfirmed, *settled.ResolvedReason)
	assert.Equal(t, *matches["semi"].Participant2ID, *settled.WinnerID)
	assert.Nil(t, settled.ConfirmedBy)
}

func TestMatchLifecycle_RestoreTimersAfterRestart(t *testing.T) {
	tests := []struct {
		name        string
		elapsed     time.Duration
		want        matchservice.RestoreSummary
		wantStatus  matchdomain.MatchStatus
		wantPending int
	}{
		{
			name:        "deadline still ahead",
			elapsed:     5 * time.Minute,
			want:        matchservice.RestoreSummary{Rearmed: 2},
			wantStatus:  matchdomain.MatchStatusAwaitingConfirmation,
			wantPending: 2,
		},
		{
			name:       "deadline passed while down",
			elapsed:    20 * time.Minute,
			want:       matchservice.RestoreSummary{Resolved: 2},
			wantStatus: matchdomain.MatchStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, matches, players := h.fourPlayerBracket(t)
			for _, name := range []string{"semi", "semi2"} {
				p1, _ := seatedUsers(t, matches[name], players)
				_, err := h.service.ReportScore(h.ctx, matchservice.ReportScoreRequest{
					MatchID:           matches[name].ID,
					ReporterUserID:    p1.UserID,
					Participant1Score: 5,
					Participant2Score: 4,
				})
				require.NoError(t, err)
			}

			service, timers := h.restart(t, tt.elapsed)
			summary, err := service.RestoreTimers(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, summary)
			assert.Len(t, timers.Pending(matches["semi"].ID), tt.wantPending)

			for _, name := range []string{"semi", "semi2"} {
				m, err := h.repo.GetMatch(h.ctx, nil, matches[name].ID)
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, m.Status, name)
			}

			if tt.wantStatus == matchdomain.MatchStatusCompleted {
				final, err := h.repo.GetMatch(h.ctx, nil, matches["final"].ID)
				require.NoError(t, err)
				assert.Equal(t, 2, final.Seated())
			}
		})
	}
}
