package matchservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	matchtimers "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/timers"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/Black-And-White-Club/matchflow/pkg/results"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "MatchService"

// Timings are the confirmation deadlines applied to reported scores.
type Timings struct {
	ConfirmWindow time.Duration
	WarningAfter  time.Duration
}

// DefaultTimings warns after ten minutes and auto-confirms after fifteen.
var DefaultTimings = Timings{
	ConfirmWindow: 15 * time.Minute,
	WarningAfter:  10 * time.Minute,
}

// MatchService implements the Service interface.
type MatchService struct {
	repo      matchdb.Repository
	bracket   Bracket
	handshake Handshake
	fanout    *Fanout
	timers    *matchtimers.Registry
	timings   Timings
	logger    *slog.Logger
	metrics   matchmetrics.MatchMetrics
	tracer    trace.Tracer
	db        *bun.DB
}

// NewMatchService creates a new MatchService.
func NewMatchService(
	repo matchdb.Repository,
	bracket Bracket,
	handshake Handshake,
	effects SideEffects,
	timers *matchtimers.Registry,
	timings Timings,
	logger *slog.Logger,
	metrics matchmetrics.MatchMetrics,
	tracer trace.Tracer,
	db *bun.DB,
) *MatchService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = matchmetrics.NewNoop()
	}
	if timings.ConfirmWindow <= 0 {
		timings.ConfirmWindow = DefaultTimings.ConfirmWindow
	}
	if timings.WarningAfter <= 0 || timings.WarningAfter >= timings.ConfirmWindow {
		timings.WarningAfter = timings.ConfirmWindow * 2 / 3
	}
	return &MatchService{
		repo:      repo,
		bracket:   bracket,
		handshake: handshake,
		fanout:    NewFanout(repo, effects, logger),
		timers:    timers,
		timings:   timings,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		db:        db,
	}
}

// Fanout returns the post-commit side effect dispatcher shared with background resolvers.
func (s *MatchService) Fanout() *Fanout {
	return s.fanout
}

// now is truncated to the precision Postgres stores so deadlines read back
// from the database compare equal to the ones armed in memory.
func (s *MatchService) now() time.Time {
	return s.timers.Now().UTC().Truncate(time.Microsecond)
}

func (s *MatchService) lockMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*matchdb.Match, error) {
	m, err := s.repo.GetMatchForUpdate(ctx, db, matchID)
	if err != nil {
		return nil, notFoundOr(err, "match")
	}
	return m, nil
}

// notFoundOr maps a missing row to a NotFound error and wraps anything else.
func notFoundOr(err error, entity string) error {
	if errors.Is(err, matchdb.ErrNotFound) {
		return matchdomain.NotFound(entity, err)
	}
	return fmt.Errorf("failed to get %s: %w", entity, err)
}

// participantFor resolves the caller's participant row and checks it is seated in m.
func (s *MatchService) participantFor(ctx context.Context, db bun.IDB, m *matchdb.Match, userID uuid.UUID) (*matchdb.Participant, error) {
	p, err := s.repo.GetParticipantByUser(ctx, db, m.TournamentID, userID)
	if err != nil {
		if errors.Is(err, matchdb.ErrNotFound) {
			return nil, matchdomain.ErrNotParticipant
		}
		return nil, fmt.Errorf("failed to look up participant: %w", err)
	}
	if !m.HasParticipant(p.ID) {
		return nil, matchdomain.ErrNotParticipant
	}
	return p, nil
}

// complete moves m to completed with winner. The caller persists it.
func (s *MatchService) complete(m *matchdb.Match, winner uuid.UUID, reason string, at time.Time) {
	m.Status = matchdomain.MatchStatusCompleted
	m.WinnerID = &winner
	m.ResolvedReason = &reason
	m.ResolvedAt = &at
	m.AutoConfirmAt = nil
}

// -----------------------------------------------------------------------------
// Generic Helpers (Defined as functions because methods cannot have type params)
// -----------------------------------------------------------------------------

// operationFunc is the generic signature for service operation functions.
type operationFunc[S any, F any] func(ctx context.Context) (results.OperationResult[S, F], error)

// withTelemetry wraps a service operation with tracing, metrics, and panic recovery.
func withTelemetry[S any, F any](
	s *MatchService,
	ctx context.Context,
	operationName string,
	identifier string,
	op operationFunc[S, F],
) (result results.OperationResult[S, F], err error) {

	// Start span
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operationName, trace.WithAttributes(
			attribute.String("operation", operationName),
			attribute.String("identifier", identifier),
		))
	} else {
		span = trace.SpanFromContext(ctx)
	}
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(startTime))
	}()

	s.logger.InfoContext(ctx, "Operation triggered", attr.ExtractCorrelationID(ctx), attr.String("operation", operationName))

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.ExtractCorrelationID(ctx),
				attr.String("identifier", identifier),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
			span.RecordError(err)
			result = results.OperationResult[S, F]{}
		}
	}()

	result, err = op(ctx)

	// Handle Infrastructure Error
	if err != nil {
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.logger.ErrorContext(ctx, "Operation failed with error",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
			attr.Error(wrappedErr),
		)
		s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
		span.RecordError(wrappedErr)
		return result, wrappedErr
	}

	// Handle Domain Failure
	if result.IsFailure() {
		s.logger.WarnContext(ctx, "Operation returned failure result",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
			attr.Any("failure_payload", *result.Failure),
		)
	}

	if result.IsSuccess() {
		s.logger.InfoContext(ctx, "Operation completed successfully",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("identifier", identifier),
		)
	}

	s.metrics.RecordOperationSuccess(ctx, operationName, serviceName)
	return result, nil
}

// errRollback aborts a transaction whose operation returned a failure result.
var errRollback = errors.New("rollback on failure result")

// runInTx ensures the operation runs within a transaction. A failure result
// rolls the transaction back just like an error does.
func runInTx[S any, F any](
	s *MatchService,
	ctx context.Context,
	fn func(ctx context.Context, db bun.IDB) (results.OperationResult[S, F], error),
) (results.OperationResult[S, F], error) {

	if s.db == nil {
		return fn(ctx, nil)
	}

	var result results.OperationResult[S, F]

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		result, txErr = fn(ctx, tx)
		if txErr == nil && result.IsFailure() {
			return errRollback
		}
		return txErr
	})
	if errors.Is(err, errRollback) {
		return result, nil
	}

	return result, err
}

// asResult sorts a logic error into a domain failure or an infrastructure error.
func asResult[S any](v S, err error) (results.OperationResult[S, error], error) {
	if err == nil {
		return results.SuccessResult[S, error](v), nil
	}
	if matchdomain.IsDomain(err) {
		return results.FailureResult[S, error](err), nil
	}
	return results.OperationResult[S, error]{}, err
}

// unwrap converts an operation outcome into the public return values.
// Infrastructure errors surface as retryable transient errors.
func unwrap[S any](result results.OperationResult[S, error], err error) (S, error) {
	var zero S
	if err != nil {
		if matchdomain.IsDomain(err) {
			return zero, err
		}
		return zero, matchdomain.Transient("infrastructure failure", err)
	}
	if result.IsFailure() {
		return zero, *result.Failure
	}
	return *result.Success, nil
}

// runTx runs fn in its own transaction for work outside an operation's
// primary transition.
func (s *MatchService) runTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}
