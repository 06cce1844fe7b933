package matchdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

// NewRepository creates a new match repository.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

// resolveDB returns the provided db handle, falling back to the repository's
// default connection if db is nil.
func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func checkAffected(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	if rows == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (r *Impl) GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	db = r.resolveDB(db)
	match := new(Match)
	if err := db.NewSelect().Model(match).Where("m.id = ?", matchID).Scan(ctx); err != nil {
		return nil, notFound(err, "match")
	}
	return match, nil
}

func (r *Impl) GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	db = r.resolveDB(db)
	match := new(Match)
	err := db.NewSelect().
		Model(match).
		Where("m.id = ?", matchID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "match for update")
	}
	return match, nil
}

func (r *Impl) UpdateMatch(ctx context.Context, db bun.IDB, match *Match) error {
	db = r.resolveDB(db)
	match.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().Model(match).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	return checkAffected(res, "match")
}

func (r *Impl) InsertMatches(ctx context.Context, db bun.IDB, matches []*Match) error {
	if len(matches) == 0 {
		return nil
	}
	db = r.resolveDB(db)
	if _, err := db.NewInsert().Model(&matches).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert matches: %w", err)
	}
	return nil
}

func (r *Impl) ListTournamentMatches(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.tournament_id = ?", tournamentID).
		Order("m.round_number ASC", "m.match_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournament matches: %w", err)
	}
	return matches, nil
}

func (r *Impl) ListRoundMatchesForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID, round int) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.tournament_id = ?", tournamentID).
		Where("m.round_number = ?", round).
		Order("m.match_number ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock round %d matches: %w", round, err)
	}
	return matches, nil
}

func (r *Impl) ListAwaitingConfirmation(ctx context.Context, db bun.IDB) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.status = ?", matchdomain.MatchStatusAwaitingConfirmation).
		Where("m.auto_confirm_at IS NOT NULL").
		Order("m.auto_confirm_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches awaiting confirmation: %w", err)
	}
	return matches, nil
}

func (r *Impl) ListScheduledPastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Join("JOIN tournaments AS t ON t.id = m.tournament_id").
		Where("m.status = ?", matchdomain.MatchStatusScheduled).
		Where("m.participant1_id IS NOT NULL").
		Where("m.participant2_id IS NOT NULL").
		Where("m.resolved_at IS NULL").
		Where("GREATEST(t.start_time, COALESCE(m.seeded_at, t.start_time)) < ?", cutoff).
		Order("m.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue scheduled matches: %w", err)
	}
	return matches, nil
}

func (r *Impl) ListLivePastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.status = ?", matchdomain.MatchStatusLive).
		Where("m.live_at < ?", cutoff).
		Where("m.resolved_at IS NULL").
		Order("m.live_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue live matches: %w", err)
	}
	return matches, nil
}

func (r *Impl) ListUnplacedWinners(ctx context.Context, db bun.IDB) ([]*Match, error) {
	db = r.resolveDB(db)
	var matches []*Match
	err := db.NewSelect().
		Model(&matches).
		Join("JOIN tournaments AS t ON t.id = m.tournament_id").
		Where("t.status = ?", matchdomain.TournamentStatusInProgress).
		Where("m.winner_id IS NOT NULL").
		Where(`NOT EXISTS (
			SELECT 1 FROM matches AS n
			WHERE n.tournament_id = m.tournament_id
			AND n.round_number = m.round_number + 1
			AND (n.participant1_id = m.winner_id OR n.participant2_id = m.winner_id)
		)`).
		Order("m.round_number ASC", "m.match_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unplaced winners: %w", err)
	}
	return matches, nil
}

// -----------------------------------------------------------------------------
// Participants
// -----------------------------------------------------------------------------

func (r *Impl) GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error) {
	db = r.resolveDB(db)
	participant := new(Participant)
	if err := db.NewSelect().Model(participant).Where("p.id = ?", participantID).Scan(ctx); err != nil {
		return nil, notFound(err, "participant")
	}
	return participant, nil
}

func (r *Impl) GetParticipantByUser(ctx context.Context, db bun.IDB, tournamentID, userID uuid.UUID) (*Participant, error) {
	db = r.resolveDB(db)
	participant := new(Participant)
	err := db.NewSelect().
		Model(participant).
		Where("p.tournament_id = ?", tournamentID).
		Where("p.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "participant by user")
	}
	return participant, nil
}

func (r *Impl) ListParticipants(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Participant, error) {
	db = r.resolveDB(db)
	var participants []*Participant
	err := db.NewSelect().
		Model(&participants).
		Where("p.tournament_id = ?", tournamentID).
		Order("p.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

func (r *Impl) SetFinalStanding(ctx context.Context, db bun.IDB, participantID uuid.UUID, standing int) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Participant)(nil)).
		Set("final_standing = ?", standing).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set final standing: %w", err)
	}
	return checkAffected(res, "participant")
}

// -----------------------------------------------------------------------------
// Tournaments
// -----------------------------------------------------------------------------

func (r *Impl) GetTournament(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error) {
	db = r.resolveDB(db)
	tournament := new(Tournament)
	if err := db.NewSelect().Model(tournament).Where("t.id = ?", tournamentID).Scan(ctx); err != nil {
		return nil, notFound(err, "tournament")
	}
	return tournament, nil
}

func (r *Impl) GetTournamentForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error) {
	db = r.resolveDB(db)
	tournament := new(Tournament)
	err := db.NewSelect().
		Model(tournament).
		Where("t.id = ?", tournamentID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "tournament for update")
	}
	return tournament, nil
}

func (r *Impl) UpdateTournament(ctx context.Context, db bun.IDB, tournament *Tournament) error {
	db = r.resolveDB(db)
	tournament.UpdatedAt = time.Now().UTC()
	res, err := db.NewUpdate().Model(tournament).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update tournament: %w", err)
	}
	return checkAffected(res, "tournament")
}

// -----------------------------------------------------------------------------
// Disputes
// -----------------------------------------------------------------------------

func (r *Impl) CreateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error {
	db = r.resolveDB(db)
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	if _, err := db.NewInsert().Model(dispute).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *Impl) GetDisputeForUpdate(ctx context.Context, db bun.IDB, disputeID uuid.UUID) (*Dispute, error) {
	db = r.resolveDB(db)
	dispute := new(Dispute)
	err := db.NewSelect().
		Model(dispute).
		Where("d.id = ?", disputeID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "dispute for update")
	}
	return dispute, nil
}

func (r *Impl) UpdateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().Model(dispute).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	return checkAffected(res, "dispute")
}
