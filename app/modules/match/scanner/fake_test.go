package matchscanner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	matchservice "github.com/Black-And-White-Club/matchflow/app/modules/match/application"
	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/handshake"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/locks"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace/noop"
)

// ------------------------
// Fake Side Effects
// ------------------------

type FakeSideEffects struct {
	mu            sync.Mutex
	notifications []notify.Notification
	payouts       []prize.Payout
}

func (f *FakeSideEffects) EnqueueNotification(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *FakeSideEffects) EnqueuePrizePayout(_ context.Context, p prize.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, p)
	return nil
}

func (f *FakeSideEffects) Categories(userID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n.Category)
		}
	}
	return out
}

func (f *FakeSideEffects) Payouts() []prize.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]prize.Payout(nil), f.payouts...)
}

var _ matchservice.SideEffects = (*FakeSideEffects)(nil)

// ------------------------
// Fake Metrics
// ------------------------

type FakeMetrics struct {
	matchmetrics.NoOpMetrics

	mu       sync.Mutex
	outcomes map[string]int
}

func (f *FakeMetrics) RecordScannerOutcome(_ context.Context, sweep, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[sweep+"/"+outcome]++
}

func (f *FakeMetrics) Outcome(sweep, outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[sweep+"/"+outcome]
}

// ------------------------
// Test environment
// ------------------------

var (
	scanNow         = time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)
	tournamentStart = scanNow.Add(-2*time.Hour - 5*time.Minute)
)

// scanEnv is a four player tournament whose first round started just over
// the no-show grace ago. Handshakes and locks live in miniredis.
type scanEnv struct {
	repo      *matchdb.FakeRepository
	effects   *FakeSideEffects
	metrics   *FakeMetrics
	clock     *clockwork.FakeClock
	redis     *miniredis.Miniredis
	handshake *handshake.Coordinator
	locker    *locks.RedisLocker
	scanner   *Scanner

	tournament *matchdb.Tournament
	players    []*matchdb.Participant
	semi       *matchdb.Match
	semi2      *matchdb.Match
	final      *matchdb.Match
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScanEnv(t *testing.T) *scanEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &scanEnv{
		repo:      matchdb.NewFakeRepository(),
		effects:   &FakeSideEffects{},
		metrics:   &FakeMetrics{},
		clock:     clockwork.NewFakeClockAt(scanNow),
		redis:     mr,
		handshake: handshake.NewCoordinator(client, handshake.DefaultTTL, discardLogger()),
		locker:    locks.NewRedisLocker(client),
	}

	engine := matchbracket.NewEngine(env.repo, env.clock, discardLogger(), env.metrics)
	env.scanner = NewScanner(
		env.repo,
		engine,
		env.handshake,
		env.locker,
		matchservice.NewFanout(env.repo, env.effects, discardLogger()),
		env.clock,
		DefaultConfig,
		discardLogger(),
		env.metrics,
		noop.NewTracerProvider().Tracer("test"),
		nil,
	)
	t.Cleanup(func() { _ = env.scanner.Stop() })

	env.tournament = &matchdb.Tournament{
		Name:         gofakeit.Company() + " Invitational",
		Format:       matchdomain.FormatSingleElimination,
		Status:       matchdomain.TournamentStatusInProgress,
		StartTime:    tournamentStart,
		CurrentRound: 1,
	}
	env.repo.PutTournament(env.tournament)

	for i := 0; i < 4; i++ {
		p := &matchdb.Participant{
			TournamentID: env.tournament.ID,
			UserID:       uuid.New(),
			DisplayName:  gofakeit.Username(),
			CreatedAt:    tournamentStart.Add(time.Duration(i-10) * time.Minute),
		}
		env.repo.PutParticipant(p)
		env.players = append(env.players, p)
	}

	seeded := tournamentStart.Add(-time.Hour)
	env.semi = env.putMatch(1, 1, env.players[0], env.players[1], &seeded)
	env.semi2 = env.putMatch(1, 2, env.players[2], env.players[3], &seeded)
	env.final = env.putMatch(2, 1, nil, nil, nil)
	return env
}

func (env *scanEnv) putMatch(round, number int, p1, p2 *matchdb.Participant, seeded *time.Time) *matchdb.Match {
	m := &matchdb.Match{
		ID:           uuid.New(),
		TournamentID: env.tournament.ID,
		RoundNumber:  round,
		MatchNumber:  number,
		BracketType:  "winners",
		Slots:        2,
		Status:       matchdomain.MatchStatusScheduled,
		SeededAt:     seeded,
		CreatedAt:    tournamentStart.Add(-time.Hour),
	}
	if p1 != nil {
		m.Participant1ID = &p1.ID
	}
	if p2 != nil {
		m.Participant2ID = &p2.ID
	}
	env.repo.PutMatch(m)
	return m
}

func (env *scanEnv) user(i int) uuid.UUID {
	return env.players[i].UserID
}

// goLive marks a match live since the given instant.
func (env *scanEnv) goLive(m *matchdb.Match, since time.Time) {
	stored := env.repo.Match(m.ID)
	stored.Status = matchdomain.MatchStatusLive
	stored.LiveAt = &since
	env.repo.PutMatch(stored)
}
