package matchservice

import (
	"context"
	"fmt"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/uptrace/bun"
)

// AdminResolveDispute decides an open dispute. With a winner the dispute is
// resolved and the match completes exactly as if the score had been confirmed.
// Without one only the resolution note is recorded: the dispute stays open and
// the match stays disputed until an admin names a winner.
func (s *MatchService) AdminResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*matchdb.Dispute, error) {
	resolveTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*disputed, error], error) {
		return asResult(s.adminResolveLogic(ctx, db, req))
	}

	result, err := withTelemetry(s, ctx, "AdminResolveDispute", req.DisputeID.String(), func(ctx context.Context) (results.OperationResult[*disputed, error], error) {
		return runInTx(s, ctx, resolveTx)
	})
	out, err := unwrap(result, err)
	if err != nil {
		return nil, err
	}

	if out.match.Status == matchdomain.MatchStatusCompleted {
		s.CancelScheduledJobs(out.match.ID)
		s.afterCompletion(ctx, out.match)
	}
	return out.dispute, nil
}

func (s *MatchService) adminResolveLogic(ctx context.Context, db bun.IDB, req ResolveDisputeRequest) (*disputed, error) {
	d, err := s.repo.GetDisputeForUpdate(ctx, db, req.DisputeID)
	if err != nil {
		return nil, notFoundOr(err, "dispute")
	}
	if d.Status != matchdomain.DisputeStatusOpen {
		return nil, matchdomain.ErrDisputeNotOpen
	}

	m, err := s.lockMatch(ctx, db, d.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Status != matchdomain.MatchStatusDisputed {
		return nil, matchdomain.StateConflictf("cannot resolve a dispute on a match that is %s", m.Status)
	}
	if req.WinnerParticipantID != nil && !m.HasParticipant(*req.WinnerParticipantID) {
		return nil, matchdomain.ErrWinnerNotInMatch
	}

	resolution := req.Resolution
	d.Resolution = &resolution

	// Without a winner the note is kept and the dispute stays open for the
	// decision that follows.
	if req.WinnerParticipantID == nil {
		if err := s.repo.UpdateDispute(ctx, db, d); err != nil {
			return nil, fmt.Errorf("failed to record dispute note: %w", err)
		}
		return &disputed{dispute: d, match: m}, nil
	}

	now := s.now()
	admin := req.AdminUserID
	d.Status = matchdomain.DisputeStatusResolved
	d.WinnerParticipantID = req.WinnerParticipantID
	d.ResolvedBy = &admin
	d.ResolvedAt = &now
	if err := s.repo.UpdateDispute(ctx, db, d); err != nil {
		return nil, fmt.Errorf("failed to resolve dispute: %w", err)
	}

	s.complete(m, *req.WinnerParticipantID, matchdomain.ReasonAdminDecision, now)
	m.ResolvedBy = &admin
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to complete disputed match: %w", err)
	}
	return &disputed{dispute: d, match: m}, nil
}
