package matchservice

import (
	"context"
	"fmt"

	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// afterCompletion runs once a completed match has committed: both players are
// told the result and the winner moves on in the bracket.
func (s *MatchService) afterCompletion(ctx context.Context, m *matchdb.Match) {
	s.fanout.NotifyParticipants(ctx, m, Message{
		Title:    "Match completed",
		Body:     fmt.Sprintf("Final score %s.", scoreLine(m)),
		Category: matchdomain.CategoryMatchCompleted,
	}, Seated(m)...)

	if m.WinnerID == nil {
		return
	}
	adv, err := s.advance(ctx, m, *m.WinnerID)
	if err != nil {
		return
	}
	s.fanout.Advancement(ctx, m.TournamentID, adv)
}

// advance places the winner in its own transaction. The match itself is
// already committed, so a failure here is logged and the scanner's advance
// sweep places the winner on a later tick.
func (s *MatchService) advance(ctx context.Context, m *matchdb.Match, winner uuid.UUID) (*matchbracket.Advancement, error) {
	var adv *matchbracket.Advancement
	err := s.runTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		adv, err = s.bracket.Advance(ctx, db, m, winner)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Bracket advancement failed",
			attr.ExtractCorrelationID(ctx),
			attr.MatchID(m.ID),
			attr.TournamentID(m.TournamentID),
			attr.UUID("winner_id", winner),
			attr.Error(err),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "Bracket advanced",
		attr.ExtractCorrelationID(ctx),
		attr.MatchID(m.ID),
		attr.Bool("already_placed", adv.AlreadyPlaced),
		attr.Bool("tournament_completed", adv.TournamentCompleted),
	)
	return adv, nil
}

// opponentOfReporter returns the participant id facing whoever reported m.
func (s *MatchService) opponentOfReporter(ctx context.Context, m *matchdb.Match) (uuid.UUID, bool) {
	if m.ReportedBy == nil {
		return uuid.Nil, false
	}
	return s.opponentOfUser(ctx, m, *m.ReportedBy)
}

func (s *MatchService) opponentOfUser(ctx context.Context, m *matchdb.Match, userID uuid.UUID) (uuid.UUID, bool) {
	p, err := s.repo.GetParticipantByUser(ctx, nil, m.TournamentID, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "Could not resolve opponent",
			attr.ExtractCorrelationID(ctx),
			attr.MatchID(m.ID),
			attr.UUID("user_id", userID),
			attr.Error(err),
		)
		return uuid.Nil, false
	}
	return m.Opponent(p.ID)
}
