package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Black-And-White-Club/matchflow/app/modules/match"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/locks"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/config"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// App holds the process-wide resources and the match module.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *bun.DB
	Redis       *redis.Client
	NATS        *nc.Conn
	Publisher   message.Publisher
	MatchModule *match.Module

	registry  *prometheus.Registry
	opsServer *http.Server
}

// NewLogger builds the process logger at the configured level.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Observability.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(attr.String("service", "matchflow"), attr.String("environment", cfg.Observability.Environment))
}

// NewDB opens the bun database over pgdriver.
func NewDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// NewApp initializes the application with the necessary services and configuration.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	// Database
	app.DB = NewDB(cfg.Postgres.DSN)
	if err := app.DB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Redis backs the handshake store and, by default, the locks
	app.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := app.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// NATS carries notifications
	app.NATS, err = nc.Connect(cfg.NATS.URL, nc.RetryOnFailedConnect(true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	app.Publisher, err = wmnats.NewPublisher(
		wmnats.PublisherConfig{
			URL:       cfg.NATS.URL,
			Marshaler: &wmnats.NATSMarshaler{},
			NatsOptions: []nc.Option{
				nc.RetryOnFailedConnect(true),
			},
			JetStream: wmnats.JetStreamConfig{Disabled: true},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Watermill publisher: %w", err)
	}

	locker, err := newLocker(ctx, cfg, app.Redis, app.NATS)
	if err != nil {
		return nil, err
	}

	// Metrics
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := matchmetrics.NewPrometheusMetrics(app.registry)

	app.MatchModule, err = match.NewMatchModule(ctx, cfg, match.Dependencies{
		DB:       app.DB,
		DSN:      cfg.Postgres.DSN,
		Redis:    app.Redis,
		Locker:   locker,
		Notifier: notify.NewPublisherNotifier(app.Publisher, logger),
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   otel.Tracer("matchflow"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize match module: %w", err)
	}

	app.opsServer = &http.Server{
		Addr:              cfg.Observability.MetricsAddress,
		Handler:           NewOpsRouter(app.registry, app.healthChecks()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.InfoContext(ctx, "Application initialized",
		attr.String("lock_backend", cfg.Locks.Backend),
		attr.String("metrics_address", cfg.Observability.MetricsAddress),
	)
	return app, nil
}

func newLocker(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, conn *nc.Conn) (locks.Locker, error) {
	switch cfg.Locks.Backend {
	case locks.BackendJetStream:
		js, err := jetstream.New(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
		}
		kv, err := locks.EnsureLockBucket(ctx, js, cfg.Locks.Bucket)
		if err != nil {
			return nil, err
		}
		return locks.NewJetStreamLocker(kv), nil
	default:
		return locks.NewRedisLocker(rdb), nil
	}
}

func (app *App) healthChecks() map[string]HealthCheck {
	return map[string]HealthCheck{
		"postgres": app.DB.PingContext,
		"redis":    func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
		"nats": func(context.Context) error {
			if !app.NATS.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		},
		"queue": app.MatchModule.HealthCheck,
	}
}

// Run serves the ops endpoint and runs the match module until ctx is done.
func (app *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.MatchModule.Run(gCtx)
	})

	g.Go(func() error {
		app.Logger.InfoContext(gCtx, "Ops server listening", attr.String("addr", app.opsServer.Addr))
		if err := app.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), 10*time.Second)
		defer cancel()
		return app.opsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases every resource NewApp opened, in reverse order.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	if app.MatchModule != nil {
		if err := app.MatchModule.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.Publisher != nil {
		if err := app.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing publisher: %w", err))
		}
	}
	if app.NATS != nil {
		app.NATS.Close()
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}
