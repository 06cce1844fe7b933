package matchservice

import (
	"context"
	"fmt"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	matchtimers "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/timers"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Timer outcomes recorded in metrics.
const (
	timerSent      = "sent"
	timerCompleted = "completed"
	timerTie       = "tie"
	timerStale     = "stale"
	timerError     = "error"
)

// Auto-confirm retries after an infrastructure failure back off from
// retryBaseDelay, doubling up to retryMaxDelay.
const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

type timerOutcome struct {
	match  *matchdb.Match
	result string
}

// armConfirmationTimers arms the warning and auto-confirm timers of a match
// awaiting confirmation, replacing any armed earlier.
func (s *MatchService) armConfirmationTimers(m *matchdb.Match) {
	for _, e := range s.confirmationEntries(m) {
		s.timers.Arm(e.MatchID, e.Kind, e.At, e.Fire)
	}
}

// confirmationEntries derives the timers a match needs from its persisted
// deadline. The warning is skipped once sent or once its instant has passed.
func (s *MatchService) confirmationEntries(m *matchdb.Match) []matchtimers.Entry {
	if m.Status != matchdomain.MatchStatusAwaitingConfirmation || m.AutoConfirmAt == nil {
		return nil
	}
	matchID := m.ID
	deadline := *m.AutoConfirmAt

	var entries []matchtimers.Entry
	warnAt := deadline.Add(s.timings.WarningAfter - s.timings.ConfirmWindow)
	if m.WarningSentAt == nil && warnAt.After(s.now()) {
		entries = append(entries, matchtimers.Entry{
			MatchID: matchID,
			Kind:    matchtimers.KindWarning,
			At:      warnAt,
			Fire:    func() { s.fireWarning(matchID, deadline) },
		})
	}
	entries = append(entries, matchtimers.Entry{
		MatchID: matchID,
		Kind:    matchtimers.KindAutoConfirm,
		At:      deadline,
		Fire:    func() { s.fireAutoConfirm(matchID, deadline, 0) },
	})
	return entries
}

// CancelScheduledJobs stops every timer pending for a match.
func (s *MatchService) CancelScheduledJobs(matchID uuid.UUID) int {
	n := s.timers.CancelAll(matchID)
	if n > 0 {
		s.logger.Debug("Cancelled match timers", attr.MatchID(matchID), attr.Int("count", n))
	}
	return n
}

func timerContext() context.Context {
	return attr.WithCorrelationID(context.Background(), uuid.NewString())
}

func (s *MatchService) fireWarning(matchID uuid.UUID, deadline time.Time) {
	ctx := timerContext()

	warnTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*timerOutcome, error], error) {
		return asResult(s.warningLogic(ctx, db, matchID, deadline))
	}
	result, err := withTelemetry(s, ctx, "ConfirmationWarning", matchID.String(), func(ctx context.Context) (results.OperationResult[*timerOutcome, error], error) {
		return runInTx(s, ctx, warnTx)
	})
	out, err := unwrap(result, err)
	if err != nil {
		s.metrics.RecordTimerFired(ctx, string(matchtimers.KindWarning), timerError)
		return
	}
	s.metrics.RecordTimerFired(ctx, string(matchtimers.KindWarning), out.result)
	if out.result != timerSent {
		return
	}

	if opponent, ok := s.opponentOfReporter(ctx, out.match); ok {
		s.fanout.NotifyParticipants(ctx, out.match, Message{
			Title:    "Confirm your match",
			Body:     fmt.Sprintf("The reported score %s will be confirmed automatically at %s.", scoreLine(out.match), deadline.Format("15:04 MST")),
			Category: matchdomain.CategoryConfirmReminder,
		}, opponent)
	}
}

func (s *MatchService) warningLogic(ctx context.Context, db bun.IDB, matchID uuid.UUID, deadline time.Time) (*timerOutcome, error) {
	m, err := s.lockMatch(ctx, db, matchID)
	if err != nil {
		return nil, err
	}
	if !awaitingDeadline(m, deadline) || m.WarningSentAt != nil {
		return &timerOutcome{match: m, result: timerStale}, nil
	}

	now := s.now()
	m.WarningSentAt = &now
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to record warning: %w", err)
	}
	return &timerOutcome{match: m, result: timerSent}, nil
}

// fireAutoConfirm runs the auto-confirm for deadline. failures is the number
// of attempts that already failed on an infrastructure error.
func (s *MatchService) fireAutoConfirm(matchID uuid.UUID, deadline time.Time, failures int) {
	ctx := timerContext()
	_, err := s.AutoConfirm(ctx, matchID, deadline)
	if err == nil {
		return
	}
	if !matchdomain.IsRetryable(err) {
		s.logger.ErrorContext(ctx, "Auto-confirm timer failed",
			attr.ExtractCorrelationID(ctx),
			attr.MatchID(matchID),
			attr.Error(err),
		)
		return
	}
	s.retryAutoConfirm(ctx, matchID, deadline, failures+1, err)
}

// retryAutoConfirm arms the auto-confirm again after a backoff. A match settled
// in the meantime turns the retry into a stale no-op.
func (s *MatchService) retryAutoConfirm(ctx context.Context, matchID uuid.UUID, deadline time.Time, failures int, cause error) {
	delay := retryDelay(failures)
	s.timers.Arm(matchID, matchtimers.KindAutoConfirm, s.now().Add(delay), func() {
		s.fireAutoConfirm(matchID, deadline, failures)
	})
	s.logger.WarnContext(ctx, "Auto-confirm failed, retrying",
		attr.ExtractCorrelationID(ctx),
		attr.MatchID(matchID),
		attr.Int("failures", failures),
		attr.Duration("retry_in", delay),
		attr.Error(cause),
	)
}

func retryDelay(failures int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < failures && d < retryMaxDelay; i++ {
		d *= 2
	}
	return min(d, retryMaxDelay)
}

// AutoConfirm completes a match whose confirmation window closed at deadline.
// It does nothing once the match no longer waits on that deadline. Tied scores
// clear the deadline and leave the match for a dispute or an admin.
func (s *MatchService) AutoConfirm(ctx context.Context, matchID uuid.UUID, deadline time.Time) (*matchdb.Match, error) {
	autoTx := func(ctx context.Context, db bun.IDB) (results.OperationResult[*timerOutcome, error], error) {
		return asResult(s.autoConfirmLogic(ctx, db, matchID, deadline))
	}

	result, err := withTelemetry(s, ctx, "AutoConfirm", matchID.String(), func(ctx context.Context) (results.OperationResult[*timerOutcome, error], error) {
		return runInTx(s, ctx, autoTx)
	})
	out, err := unwrap(result, err)
	if err != nil {
		s.metrics.RecordTimerFired(ctx, string(matchtimers.KindAutoConfirm), timerError)
		return nil, err
	}
	s.metrics.RecordTimerFired(ctx, string(matchtimers.KindAutoConfirm), out.result)

	switch out.result {
	case timerCompleted:
		s.CancelScheduledJobs(matchID)
		s.afterCompletion(ctx, out.match)
	case timerTie:
		s.CancelScheduledJobs(matchID)
		s.metrics.RecordAutoConfirmTie(ctx)
		s.logger.WarnContext(ctx, "Auto-confirm skipped on tied score",
			attr.ExtractCorrelationID(ctx),
			attr.MatchID(matchID),
			attr.String("score", scoreLine(out.match)),
		)
	}
	return out.match, nil
}

func (s *MatchService) autoConfirmLogic(ctx context.Context, db bun.IDB, matchID uuid.UUID, deadline time.Time) (*timerOutcome, error) {
	m, err := s.lockMatch(ctx, db, matchID)
	if err != nil {
		return nil, err
	}
	if !awaitingDeadline(m, deadline) {
		return &timerOutcome{match: m, result: timerStale}, nil
	}

	winner, ok := winnerOf(m)
	if !ok {
		m.AutoConfirmAt = nil
		if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
			return nil, fmt.Errorf("failed to clear tied deadline: %w", err)
		}
		return &timerOutcome{match: m, result: timerTie}, nil
	}

	s.complete(m, winner, matchdomain.ReasonAutoConfirmed, s.now())
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to auto-confirm: %w", err)
	}
	return &timerOutcome{match: m, result: timerCompleted}, nil
}

// awaitingDeadline reports whether m still waits on exactly this deadline.
func awaitingDeadline(m *matchdb.Match, deadline time.Time) bool {
	return m.Status == matchdomain.MatchStatusAwaitingConfirmation &&
		m.AutoConfirmAt != nil && m.AutoConfirmAt.Equal(deadline)
}

// RestoreTimers rebuilds the timer registry from persisted deadlines after a
// restart. Deadlines that passed while the process was down resolve inline.
func (s *MatchService) RestoreTimers(ctx context.Context) (RestoreSummary, error) {
	result, err := withTelemetry(s, ctx, "RestoreTimers", "all", func(ctx context.Context) (results.OperationResult[RestoreSummary, error], error) {
		return asResult(s.restoreTimersLogic(ctx))
	})
	return unwrap(result, err)
}

func (s *MatchService) restoreTimersLogic(ctx context.Context) (RestoreSummary, error) {
	var summary RestoreSummary

	pending, err := s.repo.ListAwaitingConfirmation(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("failed to list matches awaiting confirmation: %w", err)
	}

	now := s.now()
	var entries []matchtimers.Entry
	for _, m := range pending {
		if m.AutoConfirmAt.After(now) {
			entries = append(entries, s.confirmationEntries(m)...)
			summary.Rearmed++
			continue
		}
		if _, err := s.AutoConfirm(ctx, m.ID, *m.AutoConfirmAt); err != nil {
			summary.Failed++
			if matchdomain.IsRetryable(err) {
				s.retryAutoConfirm(ctx, m.ID, *m.AutoConfirmAt, 1, err)
			}
			continue
		}
		summary.Resolved++
	}
	s.timers.RestoreAll(entries)

	s.logger.InfoContext(ctx, "Match timers restored",
		attr.ExtractCorrelationID(ctx),
		attr.Int("rearmed", summary.Rearmed),
		attr.Int("resolved", summary.Resolved),
		attr.Int("failed", summary.Failed),
	)
	return summary, nil
}
