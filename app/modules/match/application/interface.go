package matchservice

import (
	"context"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
)

// ReportScoreRequest carries a participant's score report.
type ReportScoreRequest struct {
	MatchID           uuid.UUID
	ReporterUserID    uuid.UUID
	Participant1Score int
	Participant2Score int
	EvidenceRef       *string
}

// DisputeScoreRequest contests a reported score.
type DisputeScoreRequest struct {
	MatchID     uuid.UUID
	UserID      uuid.UUID
	Reason      string
	EvidenceRef *string
}

// ResolveDisputeRequest is an admin decision on an open dispute. A nil
// WinnerParticipantID records the resolution but leaves the match disputed.
type ResolveDisputeRequest struct {
	DisputeID           uuid.UUID
	AdminUserID         uuid.UUID
	Resolution          string
	WinnerParticipantID *uuid.UUID
}

// SignalResult is the match after a handshake signal and the handshake's aggregate status.
type SignalResult struct {
	Match     *matchdb.Match
	Handshake matchdomain.HandshakeStatus
}

// RestoreSummary counts what RestoreTimers did. Failed counts overdue matches
// that could not be resolved inline; the retryable ones are armed again.
type RestoreSummary struct {
	Rearmed  int
	Resolved int
	Failed   int
}

// Service defines the match lifecycle operations.
type Service interface {
	// Score lifecycle
	ReportScore(ctx context.Context, req ReportScoreRequest) (*matchdb.Match, error)
	ConfirmScore(ctx context.Context, matchID, confirmerUserID uuid.UUID) (*matchdb.Match, error)
	DisputeScore(ctx context.Context, req DisputeScoreRequest) (*matchdb.Dispute, error)
	AdminResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*matchdb.Dispute, error)

	// Handshake
	SignalReady(ctx context.Context, matchID, userID uuid.UUID) (*SignalResult, error)
	SignalActive(ctx context.Context, matchID, userID uuid.UUID) (*SignalResult, error)

	// Bracket
	GenerateBracket(ctx context.Context, tournamentID uuid.UUID) ([]*matchdb.Match, error)

	// Timers
	AutoConfirm(ctx context.Context, matchID uuid.UUID, deadline time.Time) (*matchdb.Match, error)
	CancelScheduledJobs(matchID uuid.UUID) int
	RestoreTimers(ctx context.Context) (RestoreSummary, error)
}

var _ Service = (*MatchService)(nil)
