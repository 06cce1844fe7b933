package matchservice

import (
	"context"

	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GenerateBracket builds every round of a tournament and starts it.
func (s *MatchService) GenerateBracket(ctx context.Context, tournamentID uuid.UUID) ([]*matchdb.Match, error) {
	generateTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[[]*matchdb.Match, error], error) {
		return asResult(s.generateBracketLogic(ctx, db, tournamentID))
	}

	result, err := withTelemetry(s, ctx, "GenerateBracket", tournamentID.String(), func(ctx context.Context) (results.OperationResult[[]*matchdb.Match, error], error) {
		return runInTx(s, ctx, generateTx)
	})
	return unwrap(result, err)
}

func (s *MatchService) generateBracketLogic(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*matchdb.Match, error) {
	tournament, err := s.repo.GetTournament(ctx, db, tournamentID)
	if err != nil {
		return nil, notFoundOr(err, "tournament")
	}
	return s.bracket.Generate(ctx, db, tournament.ID)
}
