// Package matchscanner resolves matches that stalled before a score was
// reported. A periodic sweep forfeits or voids them based on the handshake and
// moves the bracket on. The same tick places winners whose advancement did not
// happen after their match was decided.
package matchscanner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	matchservice "github.com/Black-And-White-Club/matchflow/app/modules/match/application"
	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/locks"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweep names, also used as metric labels.
const (
	SweepScheduled = "scheduled"
	SweepLive      = "live"
	SweepAdvance   = "advance"
)

// Candidate outcomes recorded in metrics.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeForfeited = "forfeited"
	OutcomeNoContest = "no_contest"
	OutcomeStale     = "stale"
	OutcomeContended = "contended"
	OutcomeError     = "error"
)

// Config holds the scanner timings.
type Config struct {
	Interval     time.Duration
	NoShowGrace  time.Duration
	ReportWindow time.Duration
	LockTTL      time.Duration
}

var DefaultConfig = Config{
	Interval:     60 * time.Second,
	NoShowGrace:  2 * time.Hour,
	ReportWindow: 60 * time.Minute,
	LockTTL:      30 * time.Second,
}

// Summary counts what one sweep did, keyed by outcome.
type Summary map[string]int

// Scanner runs the deadline sweeps.
type Scanner struct {
	repo      matchdb.Repository
	bracket   matchservice.Bracket
	handshake matchservice.Handshake
	locker    locks.Locker
	fanout    *matchservice.Fanout
	clock     clockwork.Clock
	cfg       Config
	logger    *slog.Logger
	metrics   matchmetrics.MatchMetrics
	tracer    trace.Tracer
	db        *bun.DB

	scheduler gocron.Scheduler
}

func NewScanner(
	repo matchdb.Repository,
	bracket matchservice.Bracket,
	handshake matchservice.Handshake,
	locker locks.Locker,
	fanout *matchservice.Fanout,
	clock clockwork.Clock,
	cfg Config,
	logger *slog.Logger,
	metrics matchmetrics.MatchMetrics,
	tracer trace.Tracer,
	db *bun.DB,
) *Scanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = matchmetrics.NewNoop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.NoShowGrace <= 0 {
		cfg.NoShowGrace = DefaultConfig.NoShowGrace
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = DefaultConfig.ReportWindow
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig.LockTTL
	}
	return &Scanner{
		repo:      repo,
		bracket:   bracket,
		handshake: handshake,
		locker:    locker,
		fanout:    fanout,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		db:        db,
	}
}

// Start schedules the sweep every cfg.Interval until ctx is done or Stop is
// called. A tick that overruns the interval delays the next one instead of
// overlapping it.
func (s *Scanner) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(s.logger),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() { s.Sweep(ctx) }),
		gocron.WithName("match-deadline-scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to schedule deadline scan: %w", err)
	}

	s.scheduler = scheduler
	scheduler.Start()
	s.logger.InfoContext(ctx, "Deadline scanner started", attr.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop waits for a running sweep and stops the schedule.
func (s *Scanner) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	return err
}

// Sweep runs every sweep once. Advancement runs last so winners decided by
// this tick's deadlines are already placed.
func (s *Scanner) Sweep(ctx context.Context) map[string]Summary {
	ctx = attr.WithCorrelationID(ctx, uuid.NewString())
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "MatchScanner.Sweep")
		defer span.End()
	}

	now := s.now()
	summaries := make(map[string]Summary, 3)
	summaries[SweepScheduled] = s.sweep(ctx, SweepScheduled, now.Add(-s.cfg.NoShowGrace))
	summaries[SweepLive] = s.sweep(ctx, SweepLive, now.Add(-s.cfg.ReportWindow))
	summaries[SweepAdvance] = s.reconcile(ctx)
	return summaries
}

// reconcile advances decided matches whose winner never reached the next
// round. Advancing is idempotent, so racing the post-commit advance of a
// fresh result is harmless.
func (s *Scanner) reconcile(ctx context.Context) Summary {
	summary := Summary{}

	pending, err := s.repo.ListUnplacedWinners(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list unplaced winners",
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		s.metrics.RecordScannerOutcome(ctx, SweepAdvance, OutcomeError)
		summary[OutcomeError]++
		return summary
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.advanceWinner(ctx, m)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to advance winner",
				attr.ExtractCorrelationID(ctx),
				attr.MatchID(m.ID),
				attr.TournamentID(m.TournamentID),
				attr.Error(err),
			)
		}
		s.metrics.RecordScannerOutcome(ctx, SweepAdvance, outcome)
		summary[outcome]++
	}
	return summary
}

func (s *Scanner) advanceWinner(ctx context.Context, m *matchdb.Match) (string, error) {
	var adv *matchbracket.Advancement
	err := s.runTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		adv, err = s.bracket.Advance(ctx, db, m, *m.WinnerID)
		return err
	})
	if err != nil {
		return OutcomeError, err
	}
	if adv.AlreadyPlaced {
		return OutcomeStale, nil
	}

	s.logger.InfoContext(ctx, "Unplaced winner advanced",
		attr.ExtractCorrelationID(ctx),
		attr.MatchID(m.ID),
		attr.UUID("winner_id", *m.WinnerID),
		attr.Bool("tournament_completed", adv.TournamentCompleted),
	)
	if s.fanout != nil {
		s.fanout.Advancement(ctx, m.TournamentID, adv)
	}
	return OutcomeAdvanced, nil
}

func (s *Scanner) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Scanner) sweep(ctx context.Context, sweep string, cutoff time.Time) Summary {
	summary := Summary{}

	var (
		candidates []*matchdb.Match
		err        error
	)
	switch sweep {
	case SweepScheduled:
		candidates, err = s.repo.ListScheduledPastDeadline(ctx, nil, cutoff)
	case SweepLive:
		candidates, err = s.repo.ListLivePastDeadline(ctx, nil, cutoff)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list overdue matches",
			attr.ExtractCorrelationID(ctx),
			attr.String("sweep", sweep),
			attr.Error(err),
		)
		s.metrics.RecordScannerOutcome(ctx, sweep, OutcomeError)
		summary[OutcomeError]++
		return summary
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.resolveCandidate(ctx, sweep, candidate.ID, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to resolve overdue match",
				attr.ExtractCorrelationID(ctx),
				attr.String("sweep", sweep),
				attr.MatchID(candidate.ID),
				attr.Bool("retryable", matchdomain.IsRetryable(err) || !matchdomain.IsDomain(err)),
				attr.Error(err),
			)
		}
		s.metrics.RecordScannerOutcome(ctx, sweep, outcome)
		summary[outcome]++
	}

	if len(candidates) > 0 {
		s.logger.InfoContext(ctx, "Deadline sweep finished",
			attr.ExtractCorrelationID(ctx),
			attr.String("sweep", sweep),
			attr.Int("candidates", len(candidates)),
			attr.Int("forfeited", summary[OutcomeForfeited]),
			attr.Int("no_contest", summary[OutcomeNoContest]),
			attr.Int("failed", summary[OutcomeError]),
		)
	}
	return summary
}

// resolution is what a committed candidate hands to the post-commit fanout.
type resolution struct {
	match       *matchdb.Match
	advancement *matchbracket.Advancement
}

func (s *Scanner) resolveCandidate(ctx context.Context, sweep string, matchID uuid.UUID, cutoff time.Time) (string, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "MatchScanner.Resolve", trace.WithAttributes(
			attribute.String("sweep", sweep),
			attribute.String("match_id", matchID.String()),
		))
		defer span.End()
	}

	key := locks.MatchKey(matchID)
	token, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to acquire match lock: %w", err)
	}
	if !ok {
		return OutcomeContended, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.WarnContext(ctx, "Failed to release match lock",
				attr.ExtractCorrelationID(ctx),
				attr.MatchID(matchID),
				attr.Error(err),
			)
		}
	}()

	var res *resolution
	err = s.runTx(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		res, err = s.resolveLocked(ctx, db, sweep, matchID, cutoff)
		return err
	})
	if err != nil {
		return OutcomeError, err
	}
	if res == nil {
		return OutcomeStale, nil
	}

	s.publish(ctx, res)
	if res.match.Status == matchdomain.MatchStatusForfeited {
		return OutcomeForfeited, nil
	}
	return OutcomeNoContest, nil
}

// resolveLocked re-checks the candidate under its row lock and writes the
// outcome together with the bracket change. A nil resolution means the match
// moved on since it was listed.
func (s *Scanner) resolveLocked(ctx context.Context, db bun.IDB, sweep string, matchID uuid.UUID, cutoff time.Time) (*resolution, error) {
	m, err := s.repo.GetMatchForUpdate(ctx, db, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock match: %w", err)
	}

	overdue, err := s.stillOverdue(ctx, db, sweep, m, cutoff)
	if err != nil || !overdue {
		return nil, err
	}

	p1, p2, err := s.signals(ctx, db, m)
	if err != nil {
		return nil, err
	}

	var outcome matchdomain.Outcome
	if sweep == SweepScheduled {
		outcome = matchdomain.DecideNoShowOutcome(p1, p2)
	} else {
		outcome = matchdomain.DecideLiveOutcome(p1, p2)
	}

	now := s.now()
	reason := outcome.Reason
	m.Status = outcome.Status
	m.WinnerID = outcome.WinnerID
	m.ForfeitParticipantID = outcome.ForfeitID
	m.ResolvedReason = &reason
	m.ResolvedAt = &now
	if err := s.repo.UpdateMatch(ctx, db, m); err != nil {
		return nil, fmt.Errorf("failed to resolve match: %w", err)
	}

	var adv *matchbracket.Advancement
	if m.WinnerID != nil {
		adv, err = s.bracket.Advance(ctx, db, m, *m.WinnerID)
	} else {
		adv, err = s.bracket.Void(ctx, db, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update bracket: %w", err)
	}

	s.logger.InfoContext(ctx, "Overdue match resolved",
		attr.ExtractCorrelationID(ctx),
		attr.MatchID(m.ID),
		attr.String("sweep", sweep),
		attr.String("status", string(m.Status)),
		attr.String("reason", reason),
	)
	return &resolution{match: m, advancement: adv}, nil
}

func (s *Scanner) stillOverdue(ctx context.Context, db bun.IDB, sweep string, m *matchdb.Match, cutoff time.Time) (bool, error) {
	if m.ResolvedAt != nil {
		return false, nil
	}
	switch sweep {
	case SweepScheduled:
		if m.Status != matchdomain.MatchStatusScheduled || m.Participant1ID == nil || m.Participant2ID == nil {
			return false, nil
		}
		t, err := s.repo.GetTournament(ctx, db, m.TournamentID)
		if err != nil {
			return false, fmt.Errorf("failed to load tournament: %w", err)
		}
		anchor := t.StartTime
		if m.SeededAt != nil && m.SeededAt.After(anchor) {
			anchor = *m.SeededAt
		}
		return anchor.Before(cutoff), nil
	case SweepLive:
		return m.Status == matchdomain.MatchStatusLive && m.LiveAt != nil && m.LiveAt.Before(cutoff), nil
	}
	return false, nil
}

// signals maps the handshake, keyed by user, onto the seated participants.
func (s *Scanner) signals(ctx context.Context, db bun.IDB, m *matchdb.Match) (matchdomain.Signals, matchdomain.Signals, error) {
	var none matchdomain.Signals

	first, err := s.repo.GetParticipant(ctx, db, *m.Participant1ID)
	if err != nil {
		return none, none, fmt.Errorf("failed to load participant: %w", err)
	}
	second, err := s.repo.GetParticipant(ctx, db, *m.Participant2ID)
	if err != nil {
		return none, none, fmt.Errorf("failed to load participant: %w", err)
	}

	snap, err := s.handshake.Snapshot(ctx, m.ID, first.UserID, second.UserID)
	if err != nil {
		return none, none, matchdomain.Transient("handshake snapshot", err)
	}

	return matchdomain.Signals{ParticipantID: first.ID, Ready: snap.First.Ready, Active: snap.First.Active},
		matchdomain.Signals{ParticipantID: second.ID, Ready: snap.Second.Ready, Active: snap.Second.Active},
		nil
}

func (s *Scanner) publish(ctx context.Context, res *resolution) {
	if s.fanout == nil {
		return
	}
	m := res.match

	msg := matchservice.Message{
		Title:    "Match closed",
		Body:     "Nobody showed up or reported a score in time, so the match was closed without a winner.",
		Category: matchdomain.CategoryMatchNoContest,
	}
	if m.Status == matchdomain.MatchStatusForfeited {
		msg = matchservice.Message{
			Title:    "Match forfeited",
			Body:     "The match was decided by forfeit after its deadline passed.",
			Category: matchdomain.CategoryMatchForfeited,
		}
	}
	s.fanout.NotifyParticipants(ctx, m, msg, matchservice.Seated(m)...)
	s.fanout.Advancement(ctx, m.TournamentID, res.advancement)
}

func (s *Scanner) runTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}
