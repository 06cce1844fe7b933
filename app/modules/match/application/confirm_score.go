package matchservice

import (
	"context"
	"fmt"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConfirmScore accepts the opponent's report and completes the match.
func (s *MatchService) ConfirmScore(ctx context.Context, matchID, confirmerUserID uuid.UUID) (*matchdb.Match, error) {
	confirmTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*matchdb.Match, error], error) {
		return asResult(s.confirmScoreLogic(ctx, db, matchID, confirmerUserID))
	}

	result, err := withTelemetry(s, ctx, "ConfirmScore", matchID.String(), func(ctx context.Context) (results.OperationResult[*matchdb.Match, error], error) {
		return runInTx(s, ctx, confirmTx)
	})
	match, err := unwrap(result, err)
	if err != nil {
		return nil, err
	}

	s.CancelScheduledJobs(matchID)
	s.afterCompletion(ctx, match)
	return match, nil
}

func (s *MatchService) confirmScoreLogic(ctx context.Context, db bun.IDB, matchID, confirmerUserID uuid.UUID) (*matchdb.Match, error) {
	m, err := s.lockMatch(ctx, db, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != matchdomain.MatchStatusAwaitingConfirmation {
		return nil, matchdomain.StateConflictf("cannot confirm a match that is %s", m.Status)
	}
	if _, err := s.participantFor(ctx, db, m, confirmerUserID); err != nil {
		return nil, err
	}
	if m.ReportedBy != nil && *m.ReportedBy == confirmerUserID {
		return nil, matchdomain.ErrSelfConfirm
	}

	winner, ok := winnerOf(m)
	if !ok {
		return nil, matchdomain.ErrTiedScore
	}

	now := s.now()
	confirmer := confirmerUserID
	s.complete(m, winner, matchdomain.ReasonConfirmed, now)
	m.ConfirmedBy = &confirmer
	m.ConfirmedAt = &now

	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to save confirmation: %w", err)
	}
	return m, nil
}

// winnerOf applies the reported scores. Missing seats or scores count as a tie.
func winnerOf(m *matchdb.Match) (uuid.UUID, bool) {
	if m.Participant1ID == nil || m.Participant2ID == nil || m.Participant1Score == nil || m.Participant2Score == nil {
		return uuid.Nil, false
	}
	return matchdomain.WinnerFromScores(*m.Participant1ID, *m.Participant2ID, *m.Participant1Score, *m.Participant2Score)
}
