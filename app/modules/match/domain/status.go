package matchdomain

// MatchStatus is the lifecycle state of a match row.
type MatchStatus string

const (
	MatchStatusScheduled            MatchStatus = "scheduled"
	MatchStatusLive                 MatchStatus = "live"
	MatchStatusAwaitingConfirmation MatchStatus = "awaiting_confirmation"
	MatchStatusDisputed             MatchStatus = "disputed"
	MatchStatusCompleted            MatchStatus = "completed"
	MatchStatusForfeited            MatchStatus = "forfeited"
	MatchStatusNoContest            MatchStatus = "no_contest"
	MatchStatusCancelled            MatchStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case MatchStatusCompleted, MatchStatusForfeited, MatchStatusNoContest, MatchStatusCancelled:
		return true
	}
	return false
}

// HasWinner reports whether a match in this status must carry a winner.
func (s MatchStatus) HasWinner() bool {
	return s == MatchStatusCompleted || s == MatchStatusForfeited
}

// Reportable reports whether a score may be reported for a match in this status.
func (s MatchStatus) Reportable() bool {
	switch s {
	case MatchStatusScheduled, MatchStatusLive, MatchStatusAwaitingConfirmation:
		return true
	}
	return false
}

// TournamentStatus is the lifecycle state of a tournament.
type TournamentStatus string

const (
	TournamentStatusRegistration TournamentStatus = "registration"
	TournamentStatusInProgress   TournamentStatus = "in_progress"
	TournamentStatusCompleted    TournamentStatus = "completed"
	TournamentStatusCancelled    TournamentStatus = "cancelled"
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// HandshakeStatus aggregates the ready/active flags of both participants.
type HandshakeStatus string

const (
	HandshakeWaiting   HandshakeStatus = "waiting"
	HandshakeOneReady  HandshakeStatus = "one_ready"
	HandshakeBothReady HandshakeStatus = "both_ready"
	HandshakeLive      HandshakeStatus = "live"
)

// AggregateHandshake derives the aggregate status from flag counts.
// The handshake store computes the same thing server side.
func AggregateHandshake(readyCount, activeCount int) HandshakeStatus {
	switch {
	case activeCount >= 2:
		return HandshakeLive
	case readyCount >= 2:
		return HandshakeBothReady
	case readyCount == 1:
		return HandshakeOneReady
	default:
		return HandshakeWaiting
	}
}

// Resolution reasons recorded on matches.
const (
	ReasonConfirmed     = "confirmed"
	ReasonAutoConfirmed = "auto_confirmed"
	ReasonAdminDecision = "admin_decision"
	ReasonBye           = "bye"
	ReasonNoShow        = "no_show"
	ReasonNoScore       = "no_score"
	ReasonVoided        = "voided"
)

// BracketFormat names a tournament's bracket strategy.
type BracketFormat string

const (
	FormatSingleElimination BracketFormat = "single_elimination"
	FormatDoubleElimination BracketFormat = "double_elimination"
	FormatBestOfThree       BracketFormat = "best_of_three"
)

// Notification categories.
const (
	CategoryScoreReported   = "score_reported"
	CategoryConfirmReminder = "confirm_reminder"
	CategoryMatchCompleted  = "match_completed"
	CategoryScoreDisputed   = "score_disputed"
	CategoryMatchForfeited  = "match_forfeited"
	CategoryMatchNoContest  = "match_no_contest"
	CategoryTournamentWon   = "tournament_won"
)

// Notification subject types.
const (
	SubjectTypeMatch      = "match"
	SubjectTypeTournament = "tournament"
)
