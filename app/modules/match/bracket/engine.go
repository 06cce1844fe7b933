package matchbracket

import (
	"context"
	"errors"
	"log/slog"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
)

// Advancement describes everything one advance or void changed.
type Advancement struct {
	NextMatchID         *uuid.UUID
	AlreadyPlaced       bool
	Byes                []uuid.UUID
	Voided              []uuid.UUID
	TournamentCompleted bool
	ChampionID          *uuid.UUID
	RunnerUpID          *uuid.UUID
}

func (a *Advancement) merge(b *Advancement) {
	if b == nil {
		return
	}
	a.Byes = append(a.Byes, b.Byes...)
	a.Voided = append(a.Voided, b.Voided...)
	if b.TournamentCompleted {
		a.TournamentCompleted = true
		a.ChampionID = b.ChampionID
		a.RunnerUpID = b.RunnerUpID
	}
}

// Strategy implements one bracket format. Every method runs inside the
// caller's transaction and may lock rows through db.
type Strategy interface {
	Format() matchdomain.BracketFormat
	Generate(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, participants []*matchdb.Participant) ([]*matchdb.Match, error)
	Advance(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, match *matchdb.Match, winnerID uuid.UUID) (*Advancement, error)
	Void(ctx context.Context, db bun.IDB, tournament *matchdb.Tournament, match *matchdb.Match) (*Advancement, error)
}

// Engine dispatches bracket operations to the tournament's format.
type Engine struct {
	repo       matchdb.Repository
	logger     *slog.Logger
	metrics    matchmetrics.MatchMetrics
	strategies map[matchdomain.BracketFormat]Strategy
}

// NewEngine creates an engine with single elimination registered.
func NewEngine(repo matchdb.Repository, clock clockwork.Clock, logger *slog.Logger, metrics matchmetrics.MatchMetrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = matchmetrics.NewNoop()
	}
	e := &Engine{
		repo:       repo,
		logger:     logger,
		metrics:    metrics,
		strategies: make(map[matchdomain.BracketFormat]Strategy),
	}
	e.Register(NewSingleElimination(repo, clock, metrics))
	return e
}

// Register adds or replaces a format strategy.
func (e *Engine) Register(s Strategy) {
	e.strategies[s.Format()] = s
}

func (e *Engine) strategy(format matchdomain.BracketFormat) (Strategy, error) {
	s, ok := e.strategies[format]
	if !ok {
		return nil, matchdomain.ErrUnsupportedFormat
	}
	return s, nil
}

// Generate builds the bracket of a tournament still in registration.
func (e *Engine) Generate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*matchdb.Match, error) {
	tournament, err := e.repo.GetTournamentForUpdate(ctx, db, tournamentID)
	if err != nil {
		return nil, err
	}
	s, err := e.strategy(tournament.Format)
	if err != nil {
		return nil, err
	}
	participants, err := e.repo.ListParticipants(ctx, db, tournamentID)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, db, tournament, participants)
}

// Advance places winnerID from a resolved match into the next round, or
// finalizes the tournament after the last round.
func (e *Engine) Advance(ctx context.Context, db bun.IDB, match *matchdb.Match, winnerID uuid.UUID) (*Advancement, error) {
	tournament, err := e.repo.GetTournamentForUpdate(ctx, db, match.TournamentID)
	if err != nil {
		return nil, err
	}
	s, err := e.strategy(tournament.Format)
	if err != nil {
		return nil, err
	}

	adv, err := s.Advance(ctx, db, tournament, match, winnerID)
	if err != nil {
		e.logFailure(ctx, match, err)
		return nil, err
	}
	return adv, nil
}

// Void propagates a no contest: the next round loses the entrant this match
// would have produced.
func (e *Engine) Void(ctx context.Context, db bun.IDB, match *matchdb.Match) (*Advancement, error) {
	tournament, err := e.repo.GetTournamentForUpdate(ctx, db, match.TournamentID)
	if err != nil {
		return nil, err
	}
	s, err := e.strategy(tournament.Format)
	if err != nil {
		return nil, err
	}

	adv, err := s.Void(ctx, db, tournament, match)
	if err != nil {
		e.logFailure(ctx, match, err)
		return nil, err
	}
	return adv, nil
}

func (e *Engine) logFailure(ctx context.Context, match *matchdb.Match, err error) {
	if errors.Is(err, matchdomain.ErrIntegrity) {
		e.metrics.RecordBracketAdvance(ctx, "integrity_error")
		e.logger.ErrorContext(ctx, "Bracket integrity violated",
			attr.ExtractCorrelationID(ctx),
			attr.MatchID(match.ID),
			attr.TournamentID(match.TournamentID),
			attr.Int("round", match.RoundNumber),
			attr.Error(err),
		)
	}
}
