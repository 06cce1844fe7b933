package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	matchservice "github.com/Black-And-White-Club/matchflow/app/modules/match/application"
	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/handshake"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/locks"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	matchqueue "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/queue"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	matchtimers "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/timers"
	matchscanner "github.com/Black-And-White-Club/matchflow/app/modules/match/scanner"
	"github.com/Black-And-White-Club/matchflow/config"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are the process-wide resources the match module runs on.
type Dependencies struct {
	DB       *bun.DB
	DSN      string
	Redis    redis.UniversalClient
	Locker   locks.Locker
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  matchmetrics.MatchMetrics
	Tracer   trace.Tracer
	Clock    clockwork.Clock
}

// Module represents the match module.
type Module struct {
	MatchService *matchservice.MatchService
	Scanner      *matchscanner.Scanner
	Queue        *matchqueue.Service

	timers     *matchtimers.Registry
	logger     *slog.Logger
	cancelFunc context.CancelFunc
}

// NewMatchModule creates and initializes a new match module.
func NewMatchModule(ctx context.Context, cfg *config.Config, deps Dependencies) (*Module, error) {
	logger := deps.Logger
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	logger.InfoContext(ctx, "match.NewMatchModule initializing")

	// 1. Repository and bracket engine
	repo := matchdb.NewRepository(deps.DB)
	engine := matchbracket.NewEngine(repo, deps.Clock, logger, deps.Metrics)

	// 2. Side effects run through River; the wallet client is rate limited
	wallet := prize.NewClient(
		cfg.Wallet.BaseURL,
		cfg.Wallet.RatePerSecond,
		&http.Client{Timeout: cfg.Wallet.RequestTimeout},
		logger,
	)
	queue, err := matchqueue.NewService(ctx, deps.DB, logger, deps.DSN, deps.Metrics, deps.Notifier, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to create match queue: %w", err)
	}

	// 3. Handshake store and timers
	hs := handshake.NewCoordinator(deps.Redis, cfg.Match.HandshakeTTL, logger)
	timers := matchtimers.NewRegistry(deps.Clock, logger)

	// 4. Service
	service := matchservice.NewMatchService(
		repo,
		engine,
		hs,
		queue,
		timers,
		matchservice.Timings{
			ConfirmWindow: cfg.Match.ConfirmWindow,
			WarningAfter:  cfg.Match.WarningAfter,
		},
		logger,
		deps.Metrics,
		deps.Tracer,
		deps.DB,
	)

	// 5. Scanner shares the service's fanout
	scanner := matchscanner.NewScanner(
		repo,
		engine,
		hs,
		deps.Locker,
		service.Fanout(),
		deps.Clock,
		matchscanner.Config{
			Interval:     cfg.Match.ScanInterval,
			NoShowGrace:  cfg.Match.NoShowGrace,
			ReportWindow: cfg.Match.ReportWindow,
			LockTTL:      cfg.Locks.TTL,
		},
		logger,
		deps.Metrics,
		deps.Tracer,
		deps.DB,
	)

	return &Module{
		MatchService: service,
		Scanner:      scanner,
		Queue:        queue,
		timers:       timers,
		logger:       logger,
	}, nil
}

// Run starts the queue workers, re-arms confirmation timers and starts the
// deadline scanner. It blocks until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting match module")

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFunc = cancel
	defer cancel()

	if err := m.Queue.Start(ctx); err != nil {
		return err
	}

	summary, err := m.MatchService.RestoreTimers(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore match timers: %w", err)
	}
	if summary.Failed > 0 {
		m.logger.WarnContext(ctx, "Some overdue matches could not be auto-confirmed on boot, retrying with backoff",
			attr.Int("failed", summary.Failed),
		)
	}

	if err := m.Scanner.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	m.logger.InfoContext(ctx, "Match module goroutine stopped")
	return nil
}

// HealthCheck reports whether the job queue can reach its database.
func (m *Module) HealthCheck(ctx context.Context) error {
	return m.Queue.HealthCheck(ctx)
}

// Close shuts down the match module.
func (m *Module) Close(ctx context.Context) error {
	m.logger.Info("Stopping match module")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}

	var errs []error
	if err := m.Scanner.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("error stopping scanner: %w", err))
	}
	m.timers.Stop()
	if err := m.Queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error stopping queue: %w", err))
	}

	m.logger.Info("Match module stopped")
	return errors.Join(errs...)
}
