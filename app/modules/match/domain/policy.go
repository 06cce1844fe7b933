package matchdomain

import "github.com/google/uuid"

// WinnerFromScores returns the participant with the higher score. ok is false
// on a tie.
func WinnerFromScores(p1, p2 uuid.UUID, score1, score2 int) (winner uuid.UUID, ok bool) {
	switch {
	case score1 > score2:
		return p1, true
	case score2 > score1:
		return p2, true
	default:
		return uuid.Nil, false
	}
}

// Signals is one participant's handshake state as seen by the scanner.
type Signals struct {
	ParticipantID uuid.UUID
	Ready         bool
	Active        bool
}

// Outcome is the resolution the scanner writes for a stale match.
type Outcome struct {
	Status    MatchStatus
	WinnerID  *uuid.UUID
	ForfeitID *uuid.UUID
	Reason    string
}

func noContest(reason string) Outcome {
	return Outcome{Status: MatchStatusNoContest, Reason: reason}
}

func forfeit(winner, loser uuid.UUID, reason string) Outcome {
	return Outcome{Status: MatchStatusForfeited, WinnerID: &winner, ForfeitID: &loser, Reason: reason}
}

// DecideNoShowOutcome resolves a scheduled match whose start grace expired.
//
//	neither ready              -> no contest
//	exactly one ready          -> the ready one wins by forfeit
//	both ready, one active     -> the active one wins
//	both ready, both or none active -> no contest
func DecideNoShowOutcome(p1, p2 Signals) Outcome {
	switch {
	case !p1.Ready && !p2.Ready:
		return noContest(ReasonNoShow)
	case p1.Ready && !p2.Ready:
		return forfeit(p1.ParticipantID, p2.ParticipantID, ReasonNoShow)
	case p2.Ready && !p1.Ready:
		return forfeit(p2.ParticipantID, p1.ParticipantID, ReasonNoShow)
	case p1.Active && !p2.Active:
		return forfeit(p1.ParticipantID, p2.ParticipantID, ReasonNoShow)
	case p2.Active && !p1.Active:
		return forfeit(p2.ParticipantID, p1.ParticipantID, ReasonNoShow)
	default:
		return noContest(ReasonNoShow)
	}
}

// DecideLiveOutcome resolves a live match nobody reported a score for.
// Exactly one active participant wins by forfeit; anything else is a no contest.
func DecideLiveOutcome(p1, p2 Signals) Outcome {
	switch {
	case p1.Active && !p2.Active:
		return forfeit(p1.ParticipantID, p2.ParticipantID, ReasonNoScore)
	case p2.Active && !p1.Active:
		return forfeit(p2.ParticipantID, p1.ParticipantID, ReasonNoScore)
	default:
		return noContest(ReasonNoScore)
	}
}
