package matchservice

import (
	"context"
	"fmt"
	"strings"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/uptrace/bun"
)

type disputed struct {
	dispute *matchdb.Dispute
	match   *matchdb.Match
}

// DisputeScore contests a reported score and parks the match for an admin.
func (s *MatchService) DisputeScore(ctx context.Context, req DisputeScoreRequest) (*matchdb.Dispute, error) {
	disputeTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*disputed, error], error) {
		return asResult(s.disputeScoreLogic(ctx, db, req))
	}

	result, err := withTelemetry(s, ctx, "DisputeScore", req.MatchID.String(), func(ctx context.Context) (results.OperationResult[*disputed, error], error) {
		return runInTx(s, ctx, disputeTx)
	})
	out, err := unwrap(result, err)
	if err != nil {
		return nil, err
	}

	s.CancelScheduledJobs(req.MatchID)
	if opponent, ok := s.opponentOfUser(ctx, out.match, req.UserID); ok {
		s.fanout.NotifyParticipants(ctx, out.match, Message{
			Title:    "Score disputed",
			Body:     fmt.Sprintf("Your opponent disputed the reported score (%s). An admin will review it.", scoreLine(out.match)),
			Category: matchdomain.CategoryScoreDisputed,
		}, opponent)
	}
	return out.dispute, nil
}

func (s *MatchService) disputeScoreLogic(ctx context.Context, db bun.IDB, req DisputeScoreRequest) (*disputed, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, matchdomain.ErrReasonRequired
	}

	m, err := s.lockMatch(ctx, db, req.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Status != matchdomain.MatchStatusAwaitingConfirmation {
		return nil, matchdomain.StateConflictf("cannot dispute a match that is %s", m.Status)
	}
	if _, err := s.participantFor(ctx, db, m, req.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	d := &matchdb.Dispute{
		MatchID:     m.ID,
		RaisedBy:    req.UserID,
		Reason:      reason,
		EvidenceRef: req.EvidenceRef,
		Status:      matchdomain.DisputeStatusOpen,
		CreatedAt:   now,
	}
	if err := s.repo.CreateDispute(ctx, db, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	m.Status = matchdomain.MatchStatusDisputed
	m.AutoConfirmAt = nil
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to mark match disputed: %w", err)
	}
	return &disputed{dispute: d, match: m}, nil
}
