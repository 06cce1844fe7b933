package matchqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/riverqueue/river"
)

// NotificationWorker hands queued notifications to the notifier.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationJob]
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewNotificationWorker(logger *slog.Logger, notifier notify.Notifier) *NotificationWorker {
	return &NotificationWorker{notifier: notifier, logger: logger}
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationJob]) error {
	args := job.Args
	err := w.notifier.Notify(ctx, notify.Notification{
		UserID:      args.UserID,
		Title:       args.Title,
		Body:        args.Body,
		Category:    args.Category,
		SubjectType: args.SubjectType,
		SubjectID:   args.SubjectID,
	})
	if err != nil {
		w.logger.WarnContext(ctx, "Notification delivery failed, will retry",
			attr.Int64("job_id", job.ID),
			attr.Int("attempt", job.Attempt),
			attr.UUID("user_id", args.UserID),
			attr.Error(err),
		)
		return fmt.Errorf("deliver notification: %w", err)
	}
	return nil
}

// PrizePayoutWorker sends queued payouts to the wallet service.
type PrizePayoutWorker struct {
	river.WorkerDefaults[PrizePayoutJob]
	distributor prize.Distributor
	logger      *slog.Logger
}

func NewPrizePayoutWorker(logger *slog.Logger, distributor prize.Distributor) *PrizePayoutWorker {
	return &PrizePayoutWorker{distributor: distributor, logger: logger}
}

func (w *PrizePayoutWorker) Work(ctx context.Context, job *river.Job[PrizePayoutJob]) error {
	args := job.Args
	err := w.distributor.Distribute(ctx, prize.Payout{
		TournamentID:  args.TournamentID,
		ParticipantID: args.ParticipantID,
		UserID:        args.UserID,
		Placement:     args.Placement,
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, prize.ErrPermanent) {
		w.logger.ErrorContext(ctx, "Prize payout rejected, cancelling job",
			attr.Int64("job_id", job.ID),
			attr.TournamentID(args.TournamentID),
			attr.Int("placement", args.Placement),
			attr.Error(err),
		)
		return river.JobCancel(err)
	}
	return fmt.Errorf("distribute prize: %w", err)
}
