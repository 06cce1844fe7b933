package matchservice

import (
	"context"
	"fmt"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type signalFunc func(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error)

// SignalReady records that the user is ready to play.
func (s *MatchService) SignalReady(ctx context.Context, matchID, userID uuid.UUID) (*SignalResult, error) {
	return s.signal(ctx, "SignalReady", matchID, userID, s.handshake.SetReady)
}

// SignalActive records that the user has started playing. When both players
// are active a scheduled match goes live.
func (s *MatchService) SignalActive(ctx context.Context, matchID, userID uuid.UUID) (*SignalResult, error) {
	return s.signal(ctx, "SignalActive", matchID, userID, s.handshake.SetActive)
}

func (s *MatchService) signal(ctx context.Context, operation string, matchID, userID uuid.UUID, set signalFunc) (*SignalResult, error) {
	result, err := withTelemetry(s, ctx, operation, matchID.String(), func(ctx context.Context) (results.OperationResult[*SignalResult, error], error) {
		return asResult(s.signalLogic(ctx, matchID, userID, set))
	})
	return unwrap(result, err)
}

func (s *MatchService) signalLogic(ctx context.Context, matchID, userID uuid.UUID, set signalFunc) (*SignalResult, error) {
	m, err := s.repo.GetMatch(ctx, nil, matchID)
	if err != nil {
		return nil, notFoundOr(err, "match")
	}
	if m.Status != matchdomain.MatchStatusScheduled && m.Status != matchdomain.MatchStatusLive {
		return nil, matchdomain.StateConflictf("cannot signal on a match that is %s", m.Status)
	}
	if m.Seated() != 2 {
		return nil, matchdomain.ErrOpponentNotSeated
	}
	if _, err := s.participantFor(ctx, nil, m, userID); err != nil {
		return nil, err
	}

	status, err := set(ctx, matchID, userID)
	if err != nil {
		return nil, matchdomain.Transient("handshake signal", err)
	}

	out := &SignalResult{Match: m, Handshake: status}
	if status != matchdomain.HandshakeLive || m.Status != matchdomain.MatchStatusScheduled {
		return out, nil
	}

	goLive := func(ctx context.Context, db bun.IDB) (results.OperationResult[*matchdb.Match, error], error) {
		return asResult(s.goLive(ctx, db, matchID))
	}
	txResult, err := runInTx(s, ctx, goLive)
	if err != nil {
		return nil, err
	}
	if txResult.IsFailure() {
		return nil, *txResult.Failure
	}
	out.Match = *txResult.Success
	return out, nil
}

// goLive moves a scheduled match to live. A match already past scheduled is
// returned unchanged.
func (s *MatchService) goLive(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*matchdb.Match, error) {
	m, err := s.lockMatch(ctx, db, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != matchdomain.MatchStatusScheduled {
		return m, nil
	}

	now := s.now()
	m.Status = matchdomain.MatchStatusLive
	m.LiveAt = &now
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to mark match live: %w", err)
	}

	s.logger.InfoContext(ctx, "Match is live",
		attr.ExtractCorrelationID(ctx),
		attr.MatchID(m.ID),
	)
	return m, nil
}
