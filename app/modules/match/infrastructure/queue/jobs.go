package matchqueue

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Queue names.
const (
	QueueNotifications = "notifications"
	QueuePrizes        = "prizes"
)

// NotificationJob delivers one notification after the originating transaction commits.
type NotificationJob struct {
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Category    string    `json:"category"`
	SubjectType string    `json:"subject_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
}

// Kind returns the job type identifier for River
func (NotificationJob) Kind() string { return "match_notification" }

// InsertOpts routes notifications to their own queue.
func (NotificationJob) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: 10}
}

// PrizePayoutJob credits a tournament placing through the wallet service.
type PrizePayoutJob struct {
	TournamentID  uuid.UUID `json:"tournament_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	UserID        uuid.UUID `json:"user_id"`
	Placement     int       `json:"placement"`
}

// Kind returns the job type identifier for River
func (PrizePayoutJob) Kind() string { return "prize_payout" }

// InsertOpts makes payouts unique per tournament placing.
func (PrizePayoutJob) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueuePrizes,
		MaxAttempts: 25,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}
