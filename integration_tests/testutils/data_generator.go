package testutils

import (
	"context"
	"fmt"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	matchdb "github.com/Black-And-White-Club/matchflow/app/modules/match/infrastructure/repositories"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TestDataGenerator seeds tournaments and entrants with fake names.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a fixed seed.
func NewTestDataGenerator(seed uint64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// SeedTournament inserts a single-elimination tournament in registration with
// n entrants. Participants are returned in insertion order.
func (g *TestDataGenerator) SeedTournament(ctx context.Context, db bun.IDB, startTime time.Time, n int) (*matchdb.Tournament, []*matchdb.Participant, error) {
	tournament := &matchdb.Tournament{
		ID:              uuid.New(),
		Name:            fmt.Sprintf("%s Open", g.faker.City()),
		Format:          matchdomain.FormatSingleElimination,
		Status:          matchdomain.TournamentStatusRegistration,
		MaxParticipants: 16,
		StartTime:       startTime.UTC(),
	}
	if _, err := db.NewInsert().Model(tournament).Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to insert tournament: %w", err)
	}

	participants := make([]*matchdb.Participant, n)
	for i := range participants {
		participants[i] = &matchdb.Participant{
			ID:           uuid.New(),
			TournamentID: tournament.ID,
			UserID:       uuid.New(),
			DisplayName:  g.faker.Username(),
		}
	}
	if n > 0 {
		if _, err := db.NewInsert().Model(&participants).Exec(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to insert participants: %w", err)
		}
	}
	return tournament, participants, nil
}
