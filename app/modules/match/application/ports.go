package matchservice

import (
	"context"

	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/handshake"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SideEffects enqueues work that must happen after a transaction commits.
// Implementations deliver at least once.
type SideEffects interface {
	EnqueueNotification(ctx context.Context, n notify.Notification) error
	EnqueuePrizePayout(ctx context.Context, p prize.Payout) error
}

// Handshake records ready and active signals outside the database.
type Handshake interface {
	SetReady(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error)
	SetActive(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error)
	Snapshot(ctx context.Context, matchID, user1, user2 uuid.UUID) (*handshake.Snapshot, error)
}

// Bracket generates brackets and moves results through them. Every method
// runs inside the caller's transaction.
type Bracket interface {
	Generate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*matchdb.Match, error)
	Advance(ctx context.Context, db bun.IDB, match *matchdb.Match, winnerID uuid.UUID) (*matchbracket.Advancement, error)
	Void(ctx context.Context, db bun.IDB, match *matchdb.Match) (*matchbracket.Advancement, error)
}

var (
	_ Bracket   = (*matchbracket.Engine)(nil)
	_ Handshake = (*handshake.Coordinator)(nil)
)
