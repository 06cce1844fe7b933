package matchbracket

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

const bracketTypeWinners = "winners"

// SingleElimination places winners into the first open slot of the next round.
type SingleElimination struct {
	repo    matchdb.Repository
	clock   clockwork.Clock
	metrics matchmetrics.MatchMetrics
	shuffle func(n int, swap func(i, j int))
}

func NewSingleElimination(repo matchdb.Repository, clock clockwork.Clock, metrics matchmetrics.MatchMetrics) *SingleElimination {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = matchmetrics.NewNoop()
	}
	return &SingleElimination{
		repo:    repo,
		clock:   clock,
		metrics: metrics,
		shuffle: rand.Shuffle,
	}
}

func (s *SingleElimination) Format() matchdomain.BracketFormat {
	return matchdomain.FormatSingleElimination
}

func (s *SingleElimination) now() time.Time {
	return s.clock.Now().UTC()
}

// Generate creates every round up front. Round one pairs shuffled entrants
// consecutively; later rounds expect one entrant per feeder match.
func (s *SingleElimination) Generate(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, participants []*matchdb.Participant) ([]*matchdb.Match, error) {
	if tournament.Status != matchdomain.TournamentStatusRegistration {
		return nil, matchdomain.ErrBracketAlreadyBuilt
	}
	if len(participants) < 2 {
		return nil, matchdomain.ErrNotEnoughEntrants
	}
	if tournament.MaxParticipants > 0 && len(participants) > tournament.MaxParticipants {
		return nil, matchdomain.Validation(fmt.Sprintf("%d participants exceed the limit of %d", len(participants), tournament.MaxParticipants))
	}

	entrants := make([]*matchdb.Participant, len(participants))
	copy(entrants, participants)
	s.shuffle(len(entrants), func(i, j int) { entrants[i], entrants[j] = entrants[j], entrants[i] })

	now := s.now()
	var (
		matches []*matchdb.Match
		byes    []*matchdb.Match
	)

	feeders := 0
	for i := 0; i < len(entrants); i += 2 {
		m := s.newMatch(tournament.ID, 1, i/2+1, 2)
		m.Participant1ID = &entrants[i].ID
		if i+1 < len(entrants) {
			m.Participant2ID = &entrants[i+1].ID
			m.SeededAt = &now
		} else {
			m.Slots = 1
			completeBye(m, now)
			byes = append(byes, m)
		}
		matches = append(matches, m)
		feeders++
	}

	for round := 2; feeders > 1; round++ {
		count := (feeders + 1) / 2
		for n := 1; n <= count; n++ {
			slots := 2
			if n == count && feeders%2 == 1 {
				slots = 1
			}
			matches = append(matches, s.newMatch(tournament.ID, round, n, slots))
		}
		feeders = count
	}

	if err := s.repo.InsertMatches(ctx, db, matches); err != nil {
		return nil, fmt.Errorf("insert bracket: %w", err)
	}

	tournament.Status = matchdomain.TournamentStatusInProgress
	tournament.CurrentRound = 1
	if err := s.repo.UpdateTournament(ctx, db, tournament); err != nil {
		return nil, fmt.Errorf("start tournament: %w", err)
	}

	for _, bye := range byes {
		if _, err := s.Advance(ctx, db, tournament, bye, *bye.WinnerID); err != nil {
			return nil, fmt.Errorf("advance bye %s: %w", bye.ID, err)
		}
	}

	return s.repo.ListTournamentMatches(ctx, db, tournament.ID)
}

func (s *SingleElimination) newMatch(tournamentID uuid.UUID, round, number, slots int) *matchdb.Match {
	return &matchdb.Match{
		ID:           uuid.New(),
		TournamentID: tournamentID,
		RoundNumber:  round,
		MatchNumber:  number,
		BracketType:  bracketTypeWinners,
		Slots:        slots,
		Status:       matchdomain.MatchStatusScheduled,
	}
}

// Advance seats winnerID in the next round. Calling it again for the same
// winner changes nothing.
func (s *SingleElimination) Advance(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, match *matchdb.Match, winnerID uuid.UUID) (*Advancement, error) {
	if tournament.Status != matchdomain.TournamentStatusInProgress {
		s.metrics.RecordBracketAdvance(ctx, "already_placed")
		return &Advancement{AlreadyPlaced: true}, nil
	}
	if !match.HasParticipant(winnerID) {
		return nil, matchdomain.ErrWinnerNotInMatch
	}

	next, err := s.repo.ListRoundMatchesForUpdate(ctx, db, tournament.ID, match.RoundNumber+1)
	if err != nil {
		return nil, fmt.Errorf("lock round %d: %w", match.RoundNumber+1, err)
	}
	if len(next) == 0 {
		return s.finalize(ctx, db, tournament, match, &winnerID)
	}

	for _, m := range next {
		if m.HasParticipant(winnerID) {
			s.metrics.RecordBracketAdvance(ctx, "already_placed")
			return &Advancement{NextMatchID: &m.ID, AlreadyPlaced: true}, nil
		}
	}

	target := firstOpen(next)
	if target == nil {
		return nil, fmt.Errorf("round %d after match %s: %w", match.RoundNumber+1, match.ID, matchdomain.ErrNoOpenSlot)
	}

	now := s.now()
	target.Seat(winnerID, now)
	adv := &Advancement{NextMatchID: &target.ID}

	bye := target.Slots == 1
	if bye {
		completeBye(target, now)
		adv.Byes = append(adv.Byes, target.ID)
	}
	target.UpdatedAt = now
	if err := s.repo.UpdateMatch(ctx, db, target); err != nil {
		return nil, fmt.Errorf("seat winner: %w", err)
	}
	if err := s.bumpRound(ctx, db, tournament, target); err != nil {
		return nil, err
	}
	s.metrics.RecordBracketAdvance(ctx, "placed")

	if bye {
		further, err := s.Advance(ctx, db, tournament, target, winnerID)
		if err != nil {
			return nil, err
		}
		adv.merge(further)
	}
	return adv, nil
}

// Void removes the entrant match would have produced from the next round.
func (s *SingleElimination) Void(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, match *matchdb.Match) (*Advancement, error) {
	if tournament.Status != matchdomain.TournamentStatusInProgress {
		return &Advancement{}, nil
	}

	next, err := s.repo.ListRoundMatchesForUpdate(ctx, db, tournament.ID, match.RoundNumber+1)
	if err != nil {
		return nil, fmt.Errorf("lock round %d: %w", match.RoundNumber+1, err)
	}
	if len(next) == 0 {
		return s.finalize(ctx, db, tournament, match, nil)
	}

	target := firstOpen(next)
	if target == nil {
		return nil, fmt.Errorf("void into round %d after match %s: %w", match.RoundNumber+1, match.ID, matchdomain.ErrNoOpenSlot)
	}

	now := s.now()
	target.Slots--
	target.UpdatedAt = now
	adv := &Advancement{NextMatchID: &target.ID}

	switch {
	case target.Slots == 0:
		reason := matchdomain.ReasonVoided
		target.Status = matchdomain.MatchStatusNoContest
		target.ResolvedReason = &reason
		target.ResolvedAt = &now
		if err := s.repo.UpdateMatch(ctx, db, target); err != nil {
			return nil, fmt.Errorf("void match: %w", err)
		}
		s.metrics.RecordBracketAdvance(ctx, "voided")
		adv.Voided = append(adv.Voided, target.ID)

		further, err := s.Void(ctx, db, tournament, target)
		if err != nil {
			return nil, err
		}
		adv.merge(further)

	case target.Seated() == target.Slots:
		completeBye(target, now)
		if err := s.repo.UpdateMatch(ctx, db, target); err != nil {
			return nil, fmt.Errorf("complete bye: %w", err)
		}
		if err := s.bumpRound(ctx, db, tournament, target); err != nil {
			return nil, err
		}
		adv.Byes = append(adv.Byes, target.ID)

		further, err := s.Advance(ctx, db, tournament, target, *target.WinnerID)
		if err != nil {
			return nil, err
		}
		adv.merge(further)

	default:
		if err := s.repo.UpdateMatch(ctx, db, target); err != nil {
			return nil, fmt.Errorf("shrink match: %w", err)
		}
	}
	return adv, nil
}

// finalize completes the tournament after its last match. A nil champion
// means the final was voided.
func (s *SingleElimination) finalize(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, final *matchdb.Match, championID *uuid.UUID) (*Advancement, error) {
	adv := &Advancement{TournamentCompleted: true}

	if championID != nil {
		if err := s.repo.SetFinalStanding(ctx, db, *championID, 1); err != nil {
			return nil, fmt.Errorf("record champion: %w", err)
		}
		adv.ChampionID = championID
		if runnerUp, ok := final.Opponent(*championID); ok {
			if err := s.repo.SetFinalStanding(ctx, db, runnerUp, 2); err != nil {
				return nil, fmt.Errorf("record runner-up: %w", err)
			}
			adv.RunnerUpID = &runnerUp
		}
	}

	tournament.Status = matchdomain.TournamentStatusCompleted
	tournament.CurrentRound = final.RoundNumber
	tournament.UpdatedAt = s.now()
	if err := s.repo.UpdateTournament(ctx, db, tournament); err != nil {
		return nil, fmt.Errorf("complete tournament: %w", err)
	}

	s.metrics.RecordBracketAdvance(ctx, "tournament_completed")
	return adv, nil
}

func (s *SingleElimination) bumpRound(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, m *matchdb.Match) error {
	if m.Seated() < m.Slots || m.RoundNumber <= tournament.CurrentRound {
		return nil
	}
	tournament.CurrentRound = m.RoundNumber
	tournament.UpdatedAt = s.now()
	if err := s.repo.UpdateTournament(ctx, db, tournament); err != nil {
		return fmt.Errorf("advance current round: %w", err)
	}
	return nil
}

func firstOpen(round []*matchdb.Match) *matchdb.Match {
	for _, m := range round {
		if m.OpenSlot() {
			return m
		}
	}
	return nil
}

// completeBye resolves a match holding its only expected entrant.
func completeBye(m *matchdb.Match, at time.Time) {
	winner := m.Participant1ID
	if winner == nil {
		winner = m.Participant2ID
	}
	reason := matchdomain.ReasonBye
	m.Status = matchdomain.MatchStatusCompleted
	m.WinnerID = winner
	m.ResolvedReason = &reason
	m.ResolvedAt = &at
	if m.SeededAt == nil {
		m.SeededAt = &at
	}
}
