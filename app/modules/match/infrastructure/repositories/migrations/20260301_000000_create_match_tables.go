package matchmigrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating tournaments, participants, matches and match_disputes tables...")

		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS tournaments (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					name VARCHAR(200) NOT NULL,
					format VARCHAR(32) NOT NULL DEFAULT 'single_elimination',
					status VARCHAR(32) NOT NULL DEFAULT 'registration',
					max_participants INTEGER NOT NULL DEFAULT 0,
					start_time TIMESTAMPTZ NOT NULL,
					current_round INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`); err != nil {
				return fmt.Errorf("failed to create tournaments table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS participants (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					tournament_id UUID NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
					user_id UUID NOT NULL,
					display_name VARCHAR(100) NOT NULL DEFAULT '',
					final_standing INTEGER,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (tournament_id, user_id)
				);
			`); err != nil {
				return fmt.Errorf("failed to create participants table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS matches (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					tournament_id UUID NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
					round_number INTEGER NOT NULL,
					match_number INTEGER NOT NULL,
					bracket_type VARCHAR(16) NOT NULL DEFAULT 'winners',
					slots SMALLINT NOT NULL DEFAULT 2 CHECK (slots BETWEEN 0 AND 2),
					participant1_id UUID REFERENCES participants(id),
					participant2_id UUID REFERENCES participants(id),
					participant1_score INTEGER CHECK (participant1_score >= 0),
					participant2_score INTEGER CHECK (participant2_score >= 0),
					evidence_ref TEXT,
					status VARCHAR(32) NOT NULL DEFAULT 'scheduled',
					reported_by UUID,
					reported_at TIMESTAMPTZ,
					confirmed_by UUID,
					confirmed_at TIMESTAMPTZ,
					auto_confirm_at TIMESTAMPTZ,
					warning_sent_at TIMESTAMPTZ,
					winner_id UUID REFERENCES participants(id),
					resolved_reason VARCHAR(32),
					resolved_at TIMESTAMPTZ,
					resolved_by UUID,
					forfeit_participant_id UUID REFERENCES participants(id),
					live_at TIMESTAMPTZ,
					seeded_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (tournament_id, bracket_type, round_number, match_number),
					CONSTRAINT matches_winner_iff_decided CHECK (
						(winner_id IS NOT NULL) = (status IN ('completed', 'forfeited'))
					),
					CONSTRAINT matches_auto_confirm_only_awaiting CHECK (
						auto_confirm_at IS NULL OR status = 'awaiting_confirmation'
					)
				);
				CREATE INDEX IF NOT EXISTS idx_matches_awaiting ON matches(auto_confirm_at)
					WHERE status = 'awaiting_confirmation';
				CREATE INDEX IF NOT EXISTS idx_matches_scheduled ON matches(tournament_id)
					WHERE status = 'scheduled' AND resolved_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_matches_live ON matches(live_at)
					WHERE status = 'live' AND resolved_at IS NULL;
			`); err != nil {
				return fmt.Errorf("failed to create matches table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS match_disputes (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					match_id UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
					raised_by UUID NOT NULL,
					reason TEXT NOT NULL,
					evidence_ref TEXT,
					status VARCHAR(16) NOT NULL DEFAULT 'open',
					resolution TEXT,
					winner_participant_id UUID REFERENCES participants(id),
					resolved_by UUID,
					resolved_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_match_disputes_match ON match_disputes(match_id);
			`); err != nil {
				return fmt.Errorf("failed to create match_disputes table: %w", err)
			}

			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping match tables...")

		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, table := range []string{"match_disputes", "matches", "participants", "tournaments"} {
				if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+";"); err != nil {
					return fmt.Errorf("failed to drop %s: %w", table, err)
				}
			}
			return nil
		})
	})
}
