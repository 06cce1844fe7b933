package matchdb

import (
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Match is one bracket slot pairing. Participant ids stay null until seeded.
type Match struct {
	bun.BaseModel `bun:"table:matches,alias:m"`

	ID                   uuid.UUID               `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TournamentID         uuid.UUID               `bun:"tournament_id,notnull,type:uuid"`
	RoundNumber          int                     `bun:"round_number,notnull"`
	MatchNumber          int                     `bun:"match_number,notnull"`
	BracketType          string                  `bun:"bracket_type,notnull,default:'winners'"`
	Slots                int                     `bun:"slots,notnull,default:2"`
	Participant1ID       *uuid.UUID              `bun:"participant1_id,type:uuid,nullzero"`
	Participant2ID       *uuid.UUID              `bun:"participant2_id,type:uuid,nullzero"`
	Participant1Score    *int                    `bun:"participant1_score"`
	Participant2Score    *int                    `bun:"participant2_score"`
	EvidenceRef          *string                 `bun:"evidence_ref,nullzero"`
	Status               matchdomain.MatchStatus `bun:"status,notnull,type:varchar(32)"`
	ReportedBy           *uuid.UUID              `bun:"reported_by,type:uuid,nullzero"`
	ReportedAt           *time.Time              `bun:"reported_at,nullzero"`
	ConfirmedBy          *uuid.UUID              `bun:"confirmed_by,type:uuid,nullzero"`
	ConfirmedAt          *time.Time              `bun:"confirmed_at,nullzero"`
	AutoConfirmAt        *time.Time              `bun:"auto_confirm_at,nullzero"`
	WarningSentAt        *time.Time              `bun:"warning_sent_at,nullzero"`
	WinnerID             *uuid.UUID              `bun:"winner_id,type:uuid,nullzero"`
	ResolvedReason       *string                 `bun:"resolved_reason,nullzero"`
	ResolvedAt           *time.Time              `bun:"resolved_at,nullzero"`
	ResolvedBy           *uuid.UUID              `bun:"resolved_by,type:uuid,nullzero"`
	ForfeitParticipantID *uuid.UUID              `bun:"forfeit_participant_id,type:uuid,nullzero"`
	LiveAt               *time.Time              `bun:"live_at,nullzero"`
	SeededAt             *time.Time              `bun:"seeded_at,nullzero"`
	CreatedAt            time.Time               `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time               `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// HasParticipant reports whether participantID is seated in this match.
func (m *Match) HasParticipant(participantID uuid.UUID) bool {
	return (m.Participant1ID != nil && *m.Participant1ID == participantID) ||
		(m.Participant2ID != nil && *m.Participant2ID == participantID)
}

// Opponent returns the other seated participant, if any.
func (m *Match) Opponent(participantID uuid.UUID) (uuid.UUID, bool) {
	switch {
	case m.Participant1ID != nil && *m.Participant1ID == participantID && m.Participant2ID != nil:
		return *m.Participant2ID, true
	case m.Participant2ID != nil && *m.Participant2ID == participantID && m.Participant1ID != nil:
		return *m.Participant1ID, true
	}
	return uuid.Nil, false
}

// Seated counts the participants already placed in this match.
func (m *Match) Seated() int {
	n := 0
	if m.Participant1ID != nil {
		n++
	}
	if m.Participant2ID != nil {
		n++
	}
	return n
}

// OpenSlot reports whether another entrant can still be seated.
func (m *Match) OpenSlot() bool {
	return !m.Status.IsTerminal() && m.Seated() < m.Slots
}

// Seat places participantID in the first empty position.
func (m *Match) Seat(participantID uuid.UUID, at time.Time) {
	id := participantID
	if m.Participant1ID == nil {
		m.Participant1ID = &id
	} else {
		m.Participant2ID = &id
	}
	if m.Seated() == m.Slots {
		m.SeededAt = &at
	}
}

// Participant is a tournament entrant.
type Participant struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID            uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	TournamentID  uuid.UUID `bun:"tournament_id,notnull,type:uuid"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid"`
	DisplayName   string    `bun:"display_name,notnull,default:''"`
	FinalStanding *int      `bun:"final_standing"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Tournament owns a bracket of matches.
type Tournament struct {
	bun.BaseModel `bun:"table:tournaments,alias:t"`

	ID              uuid.UUID                    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Name            string                       `bun:"name,notnull"`
	Format          matchdomain.BracketFormat    `bun:"format,notnull,type:varchar(32)"`
	Status          matchdomain.TournamentStatus `bun:"status,notnull,type:varchar(32)"`
	MaxParticipants int                          `bun:"max_participants,notnull,default:0"`
	StartTime       time.Time                    `bun:"start_time,notnull"`
	CurrentRound    int                          `bun:"current_round,notnull,default:0"`
	CreatedAt       time.Time                    `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time                    `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Dispute records a contested score report.
type Dispute struct {
	bun.BaseModel `bun:"table:match_disputes,alias:d"`

	ID                  uuid.UUID                 `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	MatchID             uuid.UUID                 `bun:"match_id,notnull,type:uuid"`
	RaisedBy            uuid.UUID                 `bun:"raised_by,notnull,type:uuid"`
	Reason              string                    `bun:"reason,notnull"`
	EvidenceRef         *string                   `bun:"evidence_ref,nullzero"`
	Status              matchdomain.DisputeStatus `bun:"status,notnull,type:varchar(16)"`
	Resolution          *string                   `bun:"resolution,nullzero"`
	WinnerParticipantID *uuid.UUID                `bun:"winner_participant_id,type:uuid,nullzero"`
	ResolvedBy          *uuid.UUID                `bun:"resolved_by,type:uuid,nullzero"`
	ResolvedAt          *time.Time                `bun:"resolved_at,nullzero"`
	CreatedAt           time.Time                 `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
