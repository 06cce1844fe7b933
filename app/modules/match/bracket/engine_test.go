package matchbracket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var testStart = time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)

func newTestEngine(repo *matchdb.FakeRepository) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(repo, clockwork.NewFakeClockAt(testStart), logger, nil)
	// keep registration order so brackets are predictable
	e.strategies[matchdomain.FormatSingleElimination].(*SingleElimination).shuffle = func(int, func(i, j int)) {}
	return e
}

func seedTournament(t *testing.T, repo *matchdb.FakeRepository, n int) (*matchdb.Tournament, []*matchdb.Participant) {
	t.Helper()
	tournament := &matchdb.Tournament{
		Name:      gofakeit.Company() + " Open",
		Format:    matchdomain.FormatSingleElimination,
		Status:    matchdomain.TournamentStatusRegistration,
		StartTime: testStart,
	}
	repo.PutTournament(tournament)

	participants := make([]*matchdb.Participant, n)
	for i := range participants {
		p := &matchdb.Participant{
			TournamentID: tournament.ID,
			UserID:       uuid.New(),
			DisplayName:  gofakeit.Username(),
			CreatedAt:    testStart.Add(time.Duration(i) * time.Second),
		}
		repo.PutParticipant(p)
		participants[i] = p
	}
	return tournament, participants
}

func roundOf(matches []*matchdb.Match, round int) []*matchdb.Match {
	var out []*matchdb.Match
	for _, m := range matches {
		if m.RoundNumber == round {
			out = append(out, m)
		}
	}
	return out
}

// finish marks a match completed for winner the way the state machine would.
func finish(t *testing.T, repo *matchdb.FakeRepository, m *matchdb.Match, winner uuid.UUID) *matchdb.Match {
	t.Helper()
	stored := repo.Match(m.ID)
	require.NotNil(t, stored)
	stored.Status = matchdomain.MatchStatusCompleted
	stored.WinnerID = &winner
	require.NoError(t, repo.UpdateMatch(context.Background(), nil, stored))
	return stored
}

func void(t *testing.T, repo *matchdb.FakeRepository, m *matchdb.Match) *matchdb.Match {
	t.Helper()
	stored := repo.Match(m.ID)
	require.NotNil(t, stored)
	stored.Status = matchdomain.MatchStatusNoContest
	require.NoError(t, repo.UpdateMatch(context.Background(), nil, stored))
	return stored
}

func TestEngine_Generate_FourParticipants(t *testing.T) {
	repo := matchdb.NewFakeRepository()
	e := newTestEngine(repo)
	tournament, ps := seedTournament(t, repo, 4)

	matches, err := e.Generate(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	r1 := roundOf(matches, 1)
	require.Len(t, r1, 2)
	assert.Equal(t, ps[0].ID, *r1[0].Participant1ID)
	assert.Equal(t, ps[1].ID, *r1[0].Participant2ID)
	assert.Equal(t, ps[2].ID, *r1[1].Participant1ID)
	assert.Equal(t, ps[3].ID, *r1[1].Participant2ID)
	for _, m := range r1 {
		assert.Equal(t, matchdomain.MatchStatusScheduled, m.Status)
		assert.NotNil(t, m.SeededAt)
		assert.Equal(t, 2, m.Slots)
	}

	final := roundOf(matches, 2)
	require.Len(t, final, 1)
	assert.Equal(t, 0, final[0].Seated())
	assert.Nil(t, final[0].SeededAt)

	stored := repo.Tournament(tournament.ID)
	assert.Equal(t, matchdomain.TournamentStatusInProgress, stored.Status)
	assert.Equal(t, 1, stored.CurrentRound)
}

func TestEngine_Generate_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		entrants  int
		wantSlots [][]int
		wantByes  int
	}{
		{name: "two", entrants: 2, wantSlots: [][]int{{2}}},
		{name: "three", entrants: 3, wantSlots: [][]int{{2, 1}, {2}}, wantByes: 1},
		{name: "five", entrants: 5, wantSlots: [][]int{{2, 2, 1}, {2, 1}, {2}}, wantByes: 1},
		{name: "six", entrants: 6, wantSlots: [][]int{{2, 2, 2}, {2, 1}, {2}}},
		{name: "seven", entrants: 7, wantSlots: [][]int{{2, 2, 2, 1}, {2, 2}, {2}}, wantByes: 1},
		{name: "eight", entrants: 8, wantSlots: [][]int{{2, 2, 2, 2}, {2, 2}, {2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := matchdb.NewFakeRepository()
			e := newTestEngine(repo)
			tournament, ps := seedTournament(t, repo, tt.entrants)

			matches, err := e.Generate(context.Background(), nil, tournament.ID)
			require.NoError(t, err)

			byes := 0
			for round, want := range tt.wantSlots {
				got := roundOf(matches, round+1)
				require.Len(t, got, len(want), "round %d", round+1)
				for i, m := range got {
					assert.Equal(t, want[i], m.Slots, "round %d match %d", round+1, i+1)
					assert.Equal(t, i+1, m.MatchNumber)
					if m.ResolvedReason != nil && *m.ResolvedReason == matchdomain.ReasonBye {
						byes++
						assert.Equal(t, matchdomain.MatchStatusCompleted, m.Status)
						require.NotNil(t, m.WinnerID)
					}
				}
			}
			assert.Equal(t, tt.wantByes, byes)

			if tt.wantByes > 0 {
				// the odd entrant is already waiting in round two
				last := ps[len(ps)-1].ID
				r2 := roundOf(matches, 2)
				assert.True(t, r2[0].HasParticipant(last))
			}
		})
	}
}

func TestEngine_Generate_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		entrants int
		setup    func(*matchdb.Tournament)
		wantErr  error
		wantKind error
	}{
		{
			name:     "single entrant",
			entrants: 1,
			wantErr:  matchdomain.ErrNotEnoughEntrants,
			wantKind: matchdomain.ErrValidation,
		},
		{
			name:     "already started",
			entrants: 4,
			setup:    func(tr *matchdb.Tournament) { tr.Status = matchdomain.TournamentStatusInProgress },
			wantErr:  matchdomain.ErrBracketAlreadyBuilt,
			wantKind: matchdomain.ErrStateConflict,
		},
		{
			name:     "unsupported format",
			entrants: 4,
			setup:    func(tr *matchdb.Tournament) { tr.Format = matchdomain.FormatDoubleElimination },
			wantErr:  matchdomain.ErrUnsupportedFormat,
			wantKind: matchdomain.ErrValidation,
		},
		{
			name:     "over capacity",
			entrants: 5,
			setup:    func(tr *matchdb.Tournament) { tr.MaxParticipants = 4 },
			wantKind: matchdomain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := matchdb.NewFakeRepository()
			e := newTestEngine(repo)
			tournament, _ := seedTournament(t, repo, tt.entrants)
			if tt.setup != nil {
				tt.setup(tournament)
				repo.PutTournament(tournament)
			}

			_, err := e.Generate(context.Background(), nil, tournament.ID)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.ErrorIs(t, err, tt.wantKind)
			assert.NotContains(t, repo.Trace(), "InsertMatches")
		})
	}
}

func TestEngine_Advance_FourParticipantsToChampion(t *testing.T) {
	ctx := context.Background()
	repo := matchdb.NewFakeRepository()
	e := newTestEngine(repo)
	tournament, ps := seedTournament(t, repo, 4)

	matches, err := e.Generate(ctx, nil, tournament.ID)
	require.NoError(t, err)
	r1 := roundOf(matches, 1)
	finalID := roundOf(matches, 2)[0].ID

	adv, err := e.Advance(ctx, nil, finish(t, repo, r1[1], ps[3].ID), ps[3].ID)
	require.NoError(t, err)
	require.NotNil(t, adv.NextMatchID)
	assert.Equal(t, finalID, *adv.NextMatchID)
	assert.Equal(t, 1, repo.Tournament(tournament.ID).CurrentRound)

	_, err = e.Advance(ctx, nil, finish(t, repo, r1[0], ps[0].ID), ps[0].ID)
	require.NoError(t, err)

	final := repo.Match(finalID)
	assert.Equal(t, 2, final.Seated())
	assert.True(t, final.HasParticipant(ps[0].ID))
	assert.True(t, final.HasParticipant(ps[3].ID))
	assert.NotNil(t, final.SeededAt)
	assert.Equal(t, 2, repo.Tournament(tournament.ID).CurrentRound)

	adv, err = e.Advance(ctx, nil, finish(t, repo, final, ps[0].ID), ps[0].ID)
	require.NoError(t, err)
	assert.True(t, adv.TournamentCompleted)
	require.NotNil(t, adv.ChampionID)
	require.NotNil(t, adv.RunnerUpID)
	assert.Equal(t, ps[0].ID, *adv.ChampionID)
	assert.Equal(t, ps[3].ID, *adv.RunnerUpID)

	assert.Equal(t, matchdomain.TournamentStatusCompleted, repo.Tournament(tournament.ID).Status)
	assert.Equal(t, 1, *repo.Participant(ps[0].ID).FinalStanding)
	assert.Equal(t, 2, *repo.Participant(ps[3].ID).FinalStanding)
	assert.Nil(t, repo.Participant(ps[1].ID).FinalStanding)
}

func TestEngine_Advance_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := matchdb.NewFakeRepository()
	e := newTestEngine(repo)
	tournament, ps := seedTournament(t, repo, 4)

	matches, err := e.Generate(ctx, nil, tournament.ID)
	require.NoError(t, err)
	done := finish(t, repo, roundOf(matches, 1)[0], ps[1].ID)

	first, err := e.Advance(ctx, nil, done, ps[1].ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyPlaced)

	second, err := e.Advance(ctx, nil, done, ps[1].ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPlaced)
	assert.Equal(t, *first.NextMatchID, *second.NextMatchID)

	final := repo.Match(*first.NextMatchID)
	assert.Equal(t, 1, final.Seated())

	// once the tournament is over nothing moves
	t2, ps2 := seedTournament(t, repo, 2)
	m2, err := e.Generate(ctx, nil, t2.ID)
	require.NoError(t, err)
	last := finish(t, repo, m2[0], ps2[0].ID)
	_, err = e.Advance(ctx, nil, last, ps2[0].ID)
	require.NoError(t, err)
	again, err := e.Advance(ctx, nil, last, ps2[0].ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyPlaced)
	assert.False(t, again.TournamentCompleted)
}

func TestEngine_Advance_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("winner not in match", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, _ := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)

		_, err = e.Advance(ctx, nil, matches[0], uuid.New())
		assert.ErrorIs(t, err, matchdomain.ErrWinnerNotInMatch)
	})

	t.Run("no open slot is an integrity error", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, ps := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)

		final := repo.Match(roundOf(matches, 2)[0].ID)
		a, b := uuid.New(), uuid.New()
		final.Participant1ID, final.Participant2ID = &a, &b
		repo.PutMatch(final)

		_, err = e.Advance(ctx, nil, finish(t, repo, matches[0], ps[0].ID), ps[0].ID)
		require.Error(t, err)
		assert.ErrorIs(t, err, matchdomain.ErrIntegrity)
		assert.ErrorIs(t, err, matchdomain.ErrNoOpenSlot)
	})

	t.Run("repository failure surfaces", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, ps := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)

		boom := errors.New("connection reset")
		repo.ListRoundMatchesForUpdateFn = func(context.Context, bun.IDB, uuid.UUID, int) ([]*matchdb.Match, error) {
			return nil, boom
		}
		_, err = e.Advance(ctx, nil, finish(t, repo, matches[0], ps[0].ID), ps[0].ID)
		assert.ErrorIs(t, err, boom)
	})
}

func TestEngine_Void(t *testing.T) {
	ctx := context.Background()

	t.Run("voided semifinal turns the final into a bye", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, ps := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)
		r1 := roundOf(matches, 1)
		finalID := roundOf(matches, 2)[0].ID

		adv, err := e.Void(ctx, nil, void(t, repo, r1[0]))
		require.NoError(t, err)
		assert.Equal(t, finalID, *adv.NextMatchID)
		assert.Equal(t, 1, repo.Match(finalID).Slots)
		assert.Equal(t, matchdomain.MatchStatusScheduled, repo.Match(finalID).Status)

		adv, err = e.Advance(ctx, nil, finish(t, repo, r1[1], ps[2].ID), ps[2].ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{finalID}, adv.Byes)
		assert.True(t, adv.TournamentCompleted)
		assert.Equal(t, ps[2].ID, *adv.ChampionID)
		assert.Nil(t, adv.RunnerUpID)

		final := repo.Match(finalID)
		assert.Equal(t, matchdomain.MatchStatusCompleted, final.Status)
		assert.Equal(t, matchdomain.ReasonBye, *final.ResolvedReason)
	})

	t.Run("void after the other side advanced completes a bye", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, ps := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)
		r1 := roundOf(matches, 1)

		_, err = e.Advance(ctx, nil, finish(t, repo, r1[0], ps[1].ID), ps[1].ID)
		require.NoError(t, err)

		adv, err := e.Void(ctx, nil, void(t, repo, r1[1]))
		require.NoError(t, err)
		assert.Len(t, adv.Byes, 1)
		assert.True(t, adv.TournamentCompleted)
		assert.Equal(t, ps[1].ID, *adv.ChampionID)
		assert.Equal(t, 1, *repo.Participant(ps[1].ID).FinalStanding)
	})

	t.Run("both semifinals voided leaves no champion", func(t *testing.T) {
		repo := matchdb.NewFakeRepository()
		e := newTestEngine(repo)
		tournament, _ := seedTournament(t, repo, 4)
		matches, err := e.Generate(ctx, nil, tournament.ID)
		require.NoError(t, err)
		r1 := roundOf(matches, 1)
		finalID := roundOf(matches, 2)[0].ID

		_, err = e.Void(ctx, nil, void(t, repo, r1[0]))
		require.NoError(t, err)
		adv, err := e.Void(ctx, nil, void(t, repo, r1[1]))
		require.NoError(t, err)

		assert.Equal(t, []uuid.UUID{finalID}, adv.Voided)
		assert.True(t, adv.TournamentCompleted)
		assert.Nil(t, adv.ChampionID)

		final := repo.Match(finalID)
		assert.Equal(t, matchdomain.MatchStatusNoContest, final.Status)
		assert.Equal(t, matchdomain.ReasonVoided, *final.ResolvedReason)
		assert.Equal(t, matchdomain.TournamentStatusCompleted, repo.Tournament(tournament.ID).Status)
	})
}
