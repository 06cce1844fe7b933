package matchdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository defines the contract for match persistence. Every method takes a
// bun.IDB so callers decide whether it runs inside a transaction; a nil db
// falls back to the repository's own connection.
type Repository interface {
	// GetMatch retrieves a match by id.
	GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)

	// GetMatchForUpdate retrieves a match and locks its row until the transaction ends.
	GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)

	// UpdateMatch writes every column of the match.
	UpdateMatch(ctx context.Context, db bun.IDB, match *Match) error

	// InsertMatches creates bracket matches.
	InsertMatches(ctx context.Context, db bun.IDB, matches []*Match) error

	// ListTournamentMatches returns all matches of a tournament ordered by round and number.
	ListTournamentMatches(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Match, error)

	// ListRoundMatchesForUpdate locks and returns a round's matches ordered by match number.
	ListRoundMatchesForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID, round int) ([]*Match, error)

	// ListAwaitingConfirmation returns matches awaiting confirmation with a pending auto-confirm deadline.
	ListAwaitingConfirmation(ctx context.Context, db bun.IDB) ([]*Match, error)

	// ListScheduledPastDeadline returns fully seeded scheduled matches whose start anchor is before cutoff.
	ListScheduledPastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error)

	// ListLivePastDeadline returns live matches that went live before cutoff.
	ListLivePastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error)

	// ListUnplacedWinners returns decided matches of in-progress tournaments
	// whose winner is not seated in the next round yet, or whose tournament was
	// not finalized after the last round.
	ListUnplacedWinners(ctx context.Context, db bun.IDB) ([]*Match, error)

	// GetParticipant retrieves a participant by id.
	GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error)

	// GetParticipantByUser retrieves the participant a user registered as in a tournament.
	GetParticipantByUser(ctx context.Context, db bun.IDB, tournamentID, userID uuid.UUID) (*Participant, error)

	// ListParticipants returns a tournament's participants.
	ListParticipants(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Participant, error)

	// SetFinalStanding records a participant's final placing.
	SetFinalStanding(ctx context.Context, db bun.IDB, participantID uuid.UUID, standing int) error

	// GetTournament retrieves a tournament by id.
	GetTournament(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error)

	// GetTournamentForUpdate retrieves a tournament and locks its row.
	GetTournamentForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error)

	// UpdateTournament writes every column of the tournament.
	UpdateTournament(ctx context.Context, db bun.IDB, tournament *Tournament) error

	// CreateDispute inserts a dispute.
	CreateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error

	// GetDisputeForUpdate retrieves a dispute and locks its row.
	GetDisputeForUpdate(ctx context.Context, db bun.IDB, disputeID uuid.UUID) (*Dispute, error)

	// UpdateDispute writes every column of the dispute.
	UpdateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error
}
