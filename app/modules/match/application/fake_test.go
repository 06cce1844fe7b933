package matchservice

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	matchbracket "github.com/Black-And-White-Club/matchflow/app/modules/match/bracket"
	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/handshake"
	matchmetrics "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/metrics"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/notify"
	"github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/prize"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	matchtimers "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/timers"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace/noop"
)

// ------------------------
// Fake Side Effects
// ------------------------

type FakeSideEffects struct {
	mu    sync.Mutex
	trace []string

	notifications []notify.Notification
	payouts       []prize.Payout

	EnqueueNotificationFunc func(ctx context.Context, n notify.Notification) error
	EnqueuePrizePayoutFunc  func(ctx context.Context, p prize.Payout) error
}

func NewFakeSideEffects() *FakeSideEffects {
	return &FakeSideEffects{trace: []string{}}
}

func (f *FakeSideEffects) record(step string) {
	f.trace = append(f.trace, step)
}

func (f *FakeSideEffects) EnqueueNotification(ctx context.Context, n notify.Notification) error {
	f.mu.Lock()
	f.record("EnqueueNotification")
	f.notifications = append(f.notifications, n)
	f.mu.Unlock()
	if f.EnqueueNotificationFunc != nil {
		return f.EnqueueNotificationFunc(ctx, n)
	}
	return nil
}

func (f *FakeSideEffects) EnqueuePrizePayout(ctx context.Context, p prize.Payout) error {
	f.mu.Lock()
	f.record("EnqueuePrizePayout")
	f.payouts = append(f.payouts, p)
	f.mu.Unlock()
	if f.EnqueuePrizePayoutFunc != nil {
		return f.EnqueuePrizePayoutFunc(ctx, p)
	}
	return nil
}

func (f *FakeSideEffects) Trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

// Notified returns the notifications sent to userID with the given category.
func (f *FakeSideEffects) Notified(userID uuid.UUID, category string) []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Notification
	for _, n := range f.notifications {
		if n.UserID == userID && n.Category == category {
			out = append(out, n)
		}
	}
	return out
}

func (f *FakeSideEffects) Payouts() []prize.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]prize.Payout, len(f.payouts))
	copy(out, f.payouts)
	return out
}

var _ SideEffects = (*FakeSideEffects)(nil)

// ------------------------
// Fake Handshake
// ------------------------

type FakeHandshake struct {
	trace []string

	SetReadyFunc  func(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error)
	SetActiveFunc func(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error)
	SnapshotFunc  func(ctx context.Context, matchID, user1, user2 uuid.UUID) (*handshake.Snapshot, error)
}

func NewFakeHandshake() *FakeHandshake {
	return &FakeHandshake{trace: []string{}}
}

func (f *FakeHandshake) record(step string) {
	f.trace = append(f.trace, step)
}

func (f *FakeHandshake) SetReady(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error) {
	f.record("SetReady")
	if f.SetReadyFunc != nil {
		return f.SetReadyFunc(ctx, matchID, userID)
	}
	return matchdomain.HandshakeOneReady, nil
}

func (f *FakeHandshake) SetActive(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error) {
	f.record("SetActive")
	if f.SetActiveFunc != nil {
		return f.SetActiveFunc(ctx, matchID, userID)
	}
	return matchdomain.HandshakeOneReady, nil
}

func (f *FakeHandshake) Snapshot(ctx context.Context, matchID, user1, user2 uuid.UUID) (*handshake.Snapshot, error) {
	f.record("Snapshot")
	if f.SnapshotFunc != nil {
		return f.SnapshotFunc(ctx, matchID, user1, user2)
	}
	return &handshake.Snapshot{MatchID: matchID, Status: matchdomain.HandshakeWaiting}, nil
}

func (f *FakeHandshake) Trace() []string {
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

var _ Handshake = (*FakeHandshake)(nil)

// ------------------------
// Fake Metrics
// ------------------------

type FakeMetrics struct {
	matchmetrics.NoOpMetrics

	mu    sync.Mutex
	ties  int
	fired map[string]int
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{fired: map[string]int{}}
}

func (f *FakeMetrics) RecordAutoConfirmTie(context.Context) {
	f.mu.Lock()
	f.ties++
	f.mu.Unlock()
}

func (f *FakeMetrics) RecordTimerFired(_ context.Context, kind, result string) {
	f.mu.Lock()
	f.fired[kind+"/"+result]++
	f.mu.Unlock()
}

func (f *FakeMetrics) Ties() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ties
}

func (f *FakeMetrics) Fired(kind, result string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired[kind+"/"+result]
}

// ------------------------
// Test environment
// ------------------------

var testNow = time.Date(2026, 6, 13, 15, 0, 0, 0, time.UTC)

// testEnv is a four player tournament already in its first round: players 0
// and 1 meet in semi, players 2 and 3 in semi2, and the final is empty.
type testEnv struct {
	repo      *matchdb.FakeRepository
	effects   *FakeSideEffects
	handshake *FakeHandshake
	metrics   *FakeMetrics
	clock     *clockwork.FakeClock
	timers    *matchtimers.Registry
	svc       *MatchService

	tournament *matchdb.Tournament
	players    []*matchdb.Participant
	semi       *matchdb.Match
	semi2      *matchdb.Match
	final      *matchdb.Match
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      matchdb.NewFakeRepository(),
		effects:   NewFakeSideEffects(),
		handshake: NewFakeHandshake(),
		metrics:   NewFakeMetrics(),
		clock:     clockwork.NewFakeClockAt(testNow),
	}
	env.timers = matchtimers.NewRegistry(env.clock, discardLogger())
	t.Cleanup(env.timers.Stop)
	env.svc = env.newService()

	env.tournament = &matchdb.Tournament{
		Name:         gofakeit.Company() + " Cup",
		Format:       matchdomain.FormatSingleElimination,
		Status:       matchdomain.TournamentStatusInProgress,
		StartTime:    testNow.Add(-time.Hour),
		CurrentRound: 1,
	}
	env.repo.PutTournament(env.tournament)

	for i := 0; i < 4; i++ {
		p := &matchdb.Participant{
			TournamentID: env.tournament.ID,
			UserID:       uuid.New(),
			DisplayName:  gofakeit.Username(),
			CreatedAt:    testNow.Add(time.Duration(i) * time.Second),
		}
		env.repo.PutParticipant(p)
		env.players = append(env.players, p)
	}

	seeded := testNow.Add(-time.Hour)
	env.semi = env.putMatch(1, 1, env.players[0], env.players[1], seeded)
	env.semi2 = env.putMatch(1, 2, env.players[2], env.players[3], seeded)
	env.final = env.putMatch(2, 1, nil, nil, time.Time{})
	return env
}

// newService builds a service over the same stores, as a restarted process would.
func (env *testEnv) newService() *MatchService {
	engine := matchbracket.NewEngine(env.repo, env.clock, discardLogger(), env.metrics)
	return NewMatchService(
		env.repo,
		engine,
		env.handshake,
		env.effects,
		env.timers,
		DefaultTimings,
		discardLogger(),
		env.metrics,
		noop.NewTracerProvider().Tracer("test"),
		nil,
	)
}

func (env *testEnv) putMatch(round, number int, p1, p2 *matchdb.Participant, seeded time.Time) *matchdb.Match {
	m := &matchdb.Match{
		ID:           uuid.New(),
		TournamentID: env.tournament.ID,
		RoundNumber:  round,
		MatchNumber:  number,
		BracketType:  "winners",
		Slots:        2,
		Status:       matchdomain.MatchStatusScheduled,
		CreatedAt:    testNow,
	}
	if p1 != nil {
		m.Participant1ID = &p1.ID
	}
	if p2 != nil {
		m.Participant2ID = &p2.ID
	}
	if !seeded.IsZero() {
		m.SeededAt = &seeded
	}
	env.repo.PutMatch(m)
	return m
}

func (env *testEnv) user(i int) uuid.UUID {
	return env.players[i].UserID
}

func (env *testEnv) match(id uuid.UUID) *matchdb.Match {
	return env.repo.Match(id)
}

func (env *testEnv) report(t *testing.T, m *matchdb.Match, reporter int, s1, s2 int) *matchdb.Match {
	t.Helper()
	out, err := env.svc.ReportScore(context.Background(), ReportScoreRequest{
		MatchID:           m.ID,
		ReporterUserID:    env.user(reporter),
		Participant1Score: s1,
		Participant2Score: s2,
	})
	if err != nil {
		t.Fatalf("report score: %v", err)
	}
	return out
}
