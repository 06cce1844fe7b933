package matchservice

import (
	"context"
	"fmt"
	"log/slog"

	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
)

// Fanout dispatches post-commit side effects. Every method is best effort:
// failures are logged and never reach the caller's transition.
type Fanout struct {
	repo    matchdb.Repository
	effects SideEffects
	logger  *slog.Logger
}

// NewFanout creates a dispatcher enqueueing through effects. A nil effects
// drops every side effect.
func NewFanout(repo matchdb.Repository, effects SideEffects, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{repo: repo, effects: effects, logger: logger}
}

// Message is one notification addressed to match participants.
type Message struct {
	Title    string
	Body     string
	Category string
}

// NotifyParticipants notifies the users behind the given participant ids about m.
func (f *Fanout) NotifyParticipants(ctx context.Context, m *matchdb.Match, msg Message, participantIDs ...uuid.UUID) {
	for _, pid := range participantIDs {
		p, err := f.repo.GetParticipant(ctx, nil, pid)
		if err != nil {
			f.logger.WarnContext(ctx, "Skipping notification for unknown participant",
				attr.ExtractCorrelationID(ctx),
				attr.MatchID(m.ID),
				attr.UUID("participant_id", pid),
				attr.Error(err),
			)
			continue
		}
		f.NotifyUser(ctx, p.UserID, msg, matchdomain.SubjectTypeMatch, m.ID)
	}
}

// NotifyUser enqueues a single notification.
func (f *Fanout) NotifyUser(ctx context.Context, userID uuid.UUID, msg Message, subjectType string, subjectID uuid.UUID) {
	if f.effects == nil {
		return
	}
	err := f.effects.EnqueueNotification(ctx, notify.Notification{
		UserID:      userID,
		Title:       msg.Title,
		Body:        msg.Body,
		Category:    msg.Category,
		SubjectType: subjectType,
		SubjectID:   subjectID,
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to enqueue notification",
			attr.ExtractCorrelationID(ctx),
			attr.UUID("user_id", userID),
			attr.String("category", msg.Category),
			attr.Error(err),
		)
	}
}

// Seated returns the participant ids seated in m.
func Seated(m *matchdb.Match) []uuid.UUID {
	var ids []uuid.UUID
	if m.Participant1ID != nil {
		ids = append(ids, *m.Participant1ID)
	}
	if m.Participant2ID != nil {
		ids = append(ids, *m.Participant2ID)
	}
	return ids
}

// Advancement publishes the consequences of a bracket change. A completed
// tournament with a champion queues the prize payouts and congratulates the winner.
func (f *Fanout) Advancement(ctx context.Context, tournamentID uuid.UUID, adv *matchbracket.Advancement) {
	if adv == nil || !adv.TournamentCompleted || adv.ChampionID == nil {
		return
	}

	placings := []struct {
		id        *uuid.UUID
		placement int
	}{
		{adv.ChampionID, 1},
		{adv.RunnerUpID, 2},
	}

	for _, pl := range placings {
		if pl.id == nil {
			continue
		}
		p, err := f.repo.GetParticipant(ctx, nil, *pl.id)
		if err != nil {
			f.logger.ErrorContext(ctx, "Failed to load placed participant",
				attr.ExtractCorrelationID(ctx),
				attr.TournamentID(tournamentID),
				attr.UUID("participant_id", *pl.id),
				attr.Error(err),
			)
			continue
		}

		if f.effects != nil {
			err = f.effects.EnqueuePrizePayout(ctx, prize.Payout{
				TournamentID:  tournamentID,
				ParticipantID: p.ID,
				UserID:        p.UserID,
				Placement:     pl.placement,
			})
			if err != nil {
				f.logger.ErrorContext(ctx, "Failed to enqueue prize payout",
					attr.ExtractCorrelationID(ctx),
					attr.TournamentID(tournamentID),
					attr.Int("placement", pl.placement),
					attr.Error(err),
				)
			}
		}

		if pl.placement == 1 {
			f.NotifyUser(ctx, p.UserID, Message{
				Title:    "Tournament won",
				Body:     "Congratulations, you won the tournament.",
				Category: matchdomain.CategoryTournamentWon,
			}, matchdomain.SubjectTypeTournament, tournamentID)
		}
	}

	f.logger.InfoContext(ctx, "Tournament completed",
		attr.ExtractCorrelationID(ctx),
		attr.TournamentID(tournamentID),
		attr.String("champion_id", adv.ChampionID.String()),
	)
}

func scoreLine(m *matchdb.Match) string {
	if m.Participant1Score == nil || m.Participant2Score == nil {
		return "no score"
	}
	return fmt.Sprintf("%d-%d", *m.Participant1Score, *m.Participant2Score)
}
