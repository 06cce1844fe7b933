package matchdb

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FakeRepository is an in-memory Repository for tests. Rows are copied on the
// way in and out so callers only see writes they persisted. Any *Fn field
// overrides the in-memory behavior of its method.
type FakeRepository struct {
	mu sync.Mutex

	matches      map[uuid.UUID]*Match
	participants map[uuid.UUID]*Participant
	tournaments  map[uuid.UUID]*Tournament
	disputes     map[uuid.UUID]*Dispute
	trace        []string

	GetMatchFn                  func(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)
	GetMatchForUpdateFn         func(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error)
	UpdateMatchFn               func(ctx context.Context, db bun.IDB, match *Match) error
	InsertMatchesFn             func(ctx context.Context, db bun.IDB, matches []*Match) error
	ListTournamentMatchesFn     func(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Match, error)
	ListRoundMatchesForUpdateFn func(ctx context.Context, db bun.IDB, tournamentID uuid.UUID, round int) ([]*Match, error)
	ListAwaitingConfirmationFn  func(ctx context.Context, db bun.IDB) ([]*Match, error)
	ListScheduledPastDeadlineFn func(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error)
	ListLivePastDeadlineFn      func(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error)
	ListUnplacedWinnersFn       func(ctx context.Context, db bun.IDB) ([]*Match, error)

	GetParticipantFn       func(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error)
	GetParticipantByUserFn func(ctx context.Context, db bun.IDB, tournamentID, userID uuid.UUID) (*Participant, error)
	ListParticipantsFn     func(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Participant, error)
	SetFinalStandingFn     func(ctx context.Context, db bun.IDB, participantID uuid.UUID, standing int) error

	GetTournamentFn          func(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error)
	GetTournamentForUpdateFn func(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error)
	UpdateTournamentFn       func(ctx context.Context, db bun.IDB, tournament *Tournament) error

	CreateDisputeFn       func(ctx context.Context, db bun.IDB, dispute *Dispute) error
	GetDisputeForUpdateFn func(ctx context.Context, db bun.IDB, disputeID uuid.UUID) (*Dispute, error)
	UpdateDisputeFn       func(ctx context.Context, db bun.IDB, dispute *Dispute) error
}

// NewFakeRepository returns an empty in-memory repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		matches:      make(map[uuid.UUID]*Match),
		participants: make(map[uuid.UUID]*Participant),
		tournaments:  make(map[uuid.UUID]*Tournament),
		disputes:     make(map[uuid.UUID]*Dispute),
	}
}

var _ Repository = (*FakeRepository)(nil)

func (f *FakeRepository) record(step string) {
	f.mu.Lock()
	f.trace = append(f.trace, step)
	f.mu.Unlock()
}

// Trace returns the methods called so far, in order.
func (f *FakeRepository) Trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

// Seed helpers

func (f *FakeRepository) PutMatch(m *Match) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	c := *m
	f.matches[m.ID] = &c
}

func (f *FakeRepository) PutParticipant(p *Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Add(time.Duration(len(f.participants)) * time.Millisecond)
	}
	c := *p
	f.participants[p.ID] = &c
}

func (f *FakeRepository) PutTournament(t *Tournament) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	c := *t
	f.tournaments[t.ID] = &c
}

func (f *FakeRepository) PutDispute(d *Dispute) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	c := *d
	f.disputes[d.ID] = &c
}

// Match returns the stored copy of a match, or nil.
func (f *FakeRepository) Match(id uuid.UUID) *Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

// Participant returns the stored copy of a participant, or nil.
func (f *FakeRepository) Participant(id uuid.UUID) *Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[id]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

// Tournament returns the stored copy of a tournament, or nil.
func (f *FakeRepository) Tournament(id uuid.UUID) *Tournament {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tournaments[id]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

// Disputes returns every stored dispute for a match.
func (f *FakeRepository) Disputes(matchID uuid.UUID) []*Dispute {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Dispute
	for _, d := range f.disputes {
		if d.MatchID == matchID {
			c := *d
			out = append(out, &c)
		}
	}
	return out
}

// Matches

func (f *FakeRepository) GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	f.record("GetMatch")
	if f.GetMatchFn != nil {
		return f.GetMatchFn(ctx, db, matchID)
	}
	if m := f.Match(matchID); m != nil {
		return m, nil
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	f.record("GetMatchForUpdate")
	if f.GetMatchForUpdateFn != nil {
		return f.GetMatchForUpdateFn(ctx, db, matchID)
	}
	if m := f.Match(matchID); m != nil {
		return m, nil
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) UpdateMatch(ctx context.Context, db bun.IDB, match *Match) error {
	f.record("UpdateMatch")
	if f.UpdateMatchFn != nil {
		return f.UpdateMatchFn(ctx, db, match)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.matches[match.ID]; !ok {
		return ErrNoRowsAffected
	}
	match.UpdatedAt = time.Now().UTC()
	c := *match
	f.matches[match.ID] = &c
	return nil
}

func (f *FakeRepository) InsertMatches(ctx context.Context, db bun.IDB, matches []*Match) error {
	f.record("InsertMatches")
	if f.InsertMatchesFn != nil {
		return f.InsertMatchesFn(ctx, db, matches)
	}
	for _, m := range matches {
		f.PutMatch(m)
	}
	return nil
}

func (f *FakeRepository) filterMatches(keep func(*Match) bool, less func(a, b *Match) int) []*Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Match
	for _, m := range f.matches {
		if keep(m) {
			c := *m
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, less)
	return out
}

func byRoundAndNumber(a, b *Match) int {
	if a.RoundNumber != b.RoundNumber {
		return a.RoundNumber - b.RoundNumber
	}
	return a.MatchNumber - b.MatchNumber
}

func (f *FakeRepository) ListTournamentMatches(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Match, error) {
	f.record("ListTournamentMatches")
	if f.ListTournamentMatchesFn != nil {
		return f.ListTournamentMatchesFn(ctx, db, tournamentID)
	}
	return f.filterMatches(func(m *Match) bool { return m.TournamentID == tournamentID }, byRoundAndNumber), nil
}

func (f *FakeRepository) ListRoundMatchesForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID, round int) ([]*Match, error) {
	f.record("ListRoundMatchesForUpdate")
	if f.ListRoundMatchesForUpdateFn != nil {
		return f.ListRoundMatchesForUpdateFn(ctx, db, tournamentID, round)
	}
	return f.filterMatches(func(m *Match) bool {
		return m.TournamentID == tournamentID && m.RoundNumber == round
	}, byRoundAndNumber), nil
}

func (f *FakeRepository) ListAwaitingConfirmation(ctx context.Context, db bun.IDB) ([]*Match, error) {
	f.record("ListAwaitingConfirmation")
	if f.ListAwaitingConfirmationFn != nil {
		return f.ListAwaitingConfirmationFn(ctx, db)
	}
	return f.filterMatches(func(m *Match) bool {
		return m.Status == matchdomain.MatchStatusAwaitingConfirmation && m.AutoConfirmAt != nil
	}, func(a, b *Match) int { return a.AutoConfirmAt.Compare(*b.AutoConfirmAt) }), nil
}

func (f *FakeRepository) ListScheduledPastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error) {
	f.record("ListScheduledPastDeadline")
	if f.ListScheduledPastDeadlineFn != nil {
		return f.ListScheduledPastDeadlineFn(ctx, db, cutoff)
	}
	f.mu.Lock()
	starts := make(map[uuid.UUID]time.Time, len(f.tournaments))
	for id, t := range f.tournaments {
		starts[id] = t.StartTime
	}
	f.mu.Unlock()

	return f.filterMatches(func(m *Match) bool {
		if m.Status != matchdomain.MatchStatusScheduled || m.ResolvedAt != nil {
			return false
		}
		if m.Participant1ID == nil || m.Participant2ID == nil {
			return false
		}
		anchor := starts[m.TournamentID]
		if m.SeededAt != nil && m.SeededAt.After(anchor) {
			anchor = *m.SeededAt
		}
		return anchor.Before(cutoff)
	}, func(a, b *Match) int { return a.CreatedAt.Compare(b.CreatedAt) }), nil
}

func (f *FakeRepository) ListLivePastDeadline(ctx context.Context, db bun.IDB, cutoff time.Time) ([]*Match, error) {
	f.record("ListLivePastDeadline")
	if f.ListLivePastDeadlineFn != nil {
		return f.ListLivePastDeadlineFn(ctx, db, cutoff)
	}
	return f.filterMatches(func(m *Match) bool {
		return m.Status == matchdomain.MatchStatusLive && m.ResolvedAt == nil &&
			m.LiveAt != nil && m.LiveAt.Before(cutoff)
	}, func(a, b *Match) int { return a.LiveAt.Compare(*b.LiveAt) }), nil
}

func (f *FakeRepository) ListUnplacedWinners(ctx context.Context, db bun.IDB) ([]*Match, error) {
	f.record("ListUnplacedWinners")
	if f.ListUnplacedWinnersFn != nil {
		return f.ListUnplacedWinnersFn(ctx, db)
	}
	f.mu.Lock()
	inProgress := make(map[uuid.UUID]bool, len(f.tournaments))
	for id, t := range f.tournaments {
		inProgress[id] = t.Status == matchdomain.TournamentStatusInProgress
	}
	type seat struct {
		tournamentID uuid.UUID
		round        int
		participant  uuid.UUID
	}
	seated := make(map[seat]bool)
	for _, m := range f.matches {
		for _, id := range []*uuid.UUID{m.Participant1ID, m.Participant2ID} {
			if id != nil {
				seated[seat{m.TournamentID, m.RoundNumber, *id}] = true
			}
		}
	}
	f.mu.Unlock()

	return f.filterMatches(func(m *Match) bool {
		return inProgress[m.TournamentID] && m.WinnerID != nil &&
			!seated[seat{m.TournamentID, m.RoundNumber + 1, *m.WinnerID}]
	}, byRoundAndNumber), nil
}

// Participants

func (f *FakeRepository) GetParticipant(ctx context.Context, db bun.IDB, participantID uuid.UUID) (*Participant, error) {
	f.record("GetParticipant")
	if f.GetParticipantFn != nil {
		return f.GetParticipantFn(ctx, db, participantID)
	}
	if p := f.Participant(participantID); p != nil {
		return p, nil
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) GetParticipantByUser(ctx context.Context, db bun.IDB, tournamentID, userID uuid.UUID) (*Participant, error) {
	f.record("GetParticipantByUser")
	if f.GetParticipantByUserFn != nil {
		return f.GetParticipantByUserFn(ctx, db, tournamentID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.TournamentID == tournamentID && p.UserID == userID {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) ListParticipants(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) ([]*Participant, error) {
	f.record("ListParticipants")
	if f.ListParticipantsFn != nil {
		return f.ListParticipantsFn(ctx, db, tournamentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Participant
	for _, p := range f.participants {
		if p.TournamentID == tournamentID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *FakeRepository) SetFinalStanding(ctx context.Context, db bun.IDB, participantID uuid.UUID, standing int) error {
	f.record("SetFinalStanding")
	if f.SetFinalStandingFn != nil {
		return f.SetFinalStandingFn(ctx, db, participantID, standing)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return ErrNoRowsAffected
	}
	s := standing
	p.FinalStanding = &s
	return nil
}

// Tournaments

func (f *FakeRepository) GetTournament(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error) {
	f.record("GetTournament")
	if f.GetTournamentFn != nil {
		return f.GetTournamentFn(ctx, db, tournamentID)
	}
	if t := f.Tournament(tournamentID); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) GetTournamentForUpdate(ctx context.Context, db bun.IDB, tournamentID uuid.UUID) (*Tournament, error) {
	f.record("GetTournamentForUpdate")
	if f.GetTournamentForUpdateFn != nil {
		return f.GetTournamentForUpdateFn(ctx, db, tournamentID)
	}
	if t := f.Tournament(tournamentID); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) UpdateTournament(ctx context.Context, db bun.IDB, tournament *Tournament) error {
	f.record("UpdateTournament")
	if f.UpdateTournamentFn != nil {
		return f.UpdateTournamentFn(ctx, db, tournament)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tournaments[tournament.ID]; !ok {
		return ErrNoRowsAffected
	}
	c := *tournament
	f.tournaments[tournament.ID] = &c
	return nil
}

// Disputes

func (f *FakeRepository) CreateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error {
	f.record("CreateDispute")
	if f.CreateDisputeFn != nil {
		return f.CreateDisputeFn(ctx, db, dispute)
	}
	f.PutDispute(dispute)
	return nil
}

func (f *FakeRepository) GetDisputeForUpdate(ctx context.Context, db bun.IDB, disputeID uuid.UUID) (*Dispute, error) {
	f.record("GetDisputeForUpdate")
	if f.GetDisputeForUpdateFn != nil {
		return f.GetDisputeForUpdateFn(ctx, db, disputeID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[disputeID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (f *FakeRepository) UpdateDispute(ctx context.Context, db bun.IDB, dispute *Dispute) error {
	f.record("UpdateDispute")
	if f.UpdateDisputeFn != nil {
		return f.UpdateDisputeFn(ctx, db, dispute)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.disputes[dispute.ID]; !ok {
		return ErrNoRowsAffected
	}
	c := *dispute
	f.disputes[dispute.ID] = &c
	return nil
}
