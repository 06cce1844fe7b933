package matchtimers

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Kind distinguishes the timers a match may have pending.
type Kind string

const (
	KindWarning     Kind = "warning"
	KindAutoConfirm Kind = "auto_confirm"
)

// MaxDelay is the longest delay a single timer is armed with. Longer waits are
// split: the timer re-arms itself until the deadline is reached.
const MaxDelay = time.Duration(math.MaxInt32) * time.Millisecond

// Entry describes one timer to arm.
type Entry struct {
	MatchID uuid.UUID
	Kind    Kind
	At      time.Time
	Fire    func()
}

type timerKey struct {
	matchID uuid.UUID
	kind    Kind
}

type pendingTimer struct {
	timer clockwork.Timer
	gen   uint64
	at    time.Time
}

// Registry owns every in-process match timer. A timer is single shot: once it
// fires or is cancelled it is forgotten, and arming the same match and kind
// again replaces the previous one.
type Registry struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	timers map[timerKey]*pendingTimer
	gen    uint64
}

// NewRegistry creates a registry driven by clock.
func NewRegistry(clock clockwork.Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clock:  clock,
		logger: logger,
		timers: make(map[timerKey]*pendingTimer),
	}
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Arm schedules fire at the given instant, replacing any pending timer of the
// same kind for the match. An instant in the past fires immediately.
func (r *Registry) Arm(matchID uuid.UUID, kind Kind, at time.Time, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armLocked(timerKey{matchID: matchID, kind: kind}, at, fire)
}

func (r *Registry) armLocked(k timerKey, at time.Time, fire func()) {
	if existing, ok := r.timers[k]; ok {
		existing.timer.Stop()
		r.logger.Debug("replaced existing timer",
			attr.MatchID(k.matchID),
			attr.String("kind", string(k.kind)),
		)
	}

	r.gen++
	gen := r.gen
	delay := clampDelay(at.Sub(r.clock.Now()))

	t := r.clock.AfterFunc(delay, func() {
		if r.take(k, gen, fire) {
			fire()
		}
	})
	r.timers[k] = &pendingTimer{timer: t, gen: gen, at: at}
}

// take removes the timer that just fired. It returns false when the timer was
// replaced or cancelled in the meantime, or when it was clamped and has been
// re-armed for the remainder of its wait.
func (r *Registry) take(k timerKey, gen uint64, fire func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.timers[k]
	if !ok || p.gen != gen {
		return false
	}
	if r.clock.Now().Before(p.at) {
		r.armLocked(k, p.at, fire)
		return false
	}
	delete(r.timers, k)
	return true
}

// Cancel stops one pending timer. It reports whether a timer was pending.
func (r *Registry) Cancel(matchID uuid.UUID, kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := timerKey{matchID: matchID, kind: kind}
	p, ok := r.timers[k]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(r.timers, k)
	return true
}

// CancelAll stops every pending timer of a match and returns how many there were.
func (r *Registry) CancelAll(matchID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, p := range r.timers {
		if k.matchID != matchID {
			continue
		}
		p.timer.Stop()
		delete(r.timers, k)
		n++
	}
	return n
}

// Pending lists the kinds of timer armed for a match, sorted by name.
func (r *Registry) Pending(matchID uuid.UUID) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []Kind
	for k := range r.timers {
		if k.matchID == matchID {
			kinds = append(kinds, k.kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Len returns the number of pending timers across all matches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// RestoreAll arms a batch of timers rebuilt from persisted deadlines.
func (r *Registry) RestoreAll(entries []Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		r.armLocked(timerKey{matchID: e.MatchID, kind: e.Kind}, e.At, e.Fire)
	}
	if len(entries) > 0 {
		r.logger.Info("restored match timers", attr.Int("count", len(entries)))
	}
	return len(entries)
}

// Stop cancels every pending timer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, p := range r.timers {
		p.timer.Stop()
		delete(r.timers, k)
	}
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}
