package matchservice

import (
	"context"
	"fmt"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/uptrace/bun"
)

// ReportScore records a participant's score and opens the confirmation window.
func (s *MatchService) ReportScore(ctx context.Context, req ReportScoreRequest) (*matchdb.Match, error) {
	reportTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*matchdb.Match, error], error) {
		return asResult(s.reportScoreLogic(ctx, db, req))
	}

	result, err := withTelemetry(s, ctx, "ReportScore", req.MatchID.String(), func(ctx context.Context) (results.OperationResult[*matchdb.Match, error], error) {
		return runInTx(s, ctx, reportTx)
	})
	match, err := unwrap(result, err)
	if err != nil {
		return nil, err
	}

	s.armConfirmationTimers(match)
	if opponent, ok := s.opponentOfReporter(ctx, match); ok {
		s.fanout.NotifyParticipants(ctx, match, Message{
			Title:    "Score reported",
			Body:     fmt.Sprintf("Your opponent reported %s. Confirm or dispute it before %s.", scoreLine(match), match.AutoConfirmAt.Format("15:04 MST")),
			Category: matchdomain.CategoryScoreReported,
		}, opponent)
	}
	return match, nil
}

func (s *MatchService) reportScoreLogic(ctx context.Context, db bun.IDB, req ReportScoreRequest) (*matchdb.Match, error) {
	if req.Participant1Score < 0 || req.Participant2Score < 0 {
		return nil, matchdomain.ErrNegativeScore
	}

	m, err := s.lockMatch(ctx, db, req.MatchID)
	if err != nil {
		return nil, err
	}
	if !m.Status.Reportable() {
		return nil, matchdomain.StateConflictf("cannot report a score for a match that is %s", m.Status)
	}
	if m.Seated() != 2 {
		return nil, matchdomain.ErrOpponentNotSeated
	}
	if _, err := s.participantFor(ctx, db, m, req.ReporterUserID); err != nil {
		return nil, err
	}

	now := s.now()
	deadline := now.Add(s.timings.ConfirmWindow)
	p1, p2 := req.Participant1Score, req.Participant2Score
	reporter := req.ReporterUserID

	m.Participant1Score = &p1
	m.Participant2Score = &p2
	m.EvidenceRef = req.EvidenceRef
	m.ReportedBy = &reporter
	m.ReportedAt = &now
	m.Status = matchdomain.MatchStatusAwaitingConfirmation
	m.AutoConfirmAt = &deadline
	m.WarningSentAt = nil

	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to save reported score: %w", err)
	}
	return m, nil
}
