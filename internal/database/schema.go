// internal/database/schema.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         UUID PRIMARY KEY,
		mode       TEXT NOT NULL DEFAULT '',
		topic      TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'in_progress',
		winner_id  UUID,
		start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		end_time   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS session_moves (
		session_id     UUID NOT NULL REFERENCES sessions(id),
		move_index     INT NOT NULL,
		move_id        UUID NOT NULL,
		turn_seq       BIGINT NOT NULL,
		author_id      UUID NOT NULL,
		category       TEXT NOT NULL,
		card           JSONB NOT NULL,
		rationale      TEXT NOT NULL,
		verdict        TEXT NOT NULL,
		feedback       TEXT NOT NULL DEFAULT '',
		points_awarded INT NOT NULL DEFAULT 0,
		played_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, move_index)
	)`,
	`CREATE TABLE IF NOT EXISTS session_results (
		session_id          UUID NOT NULL REFERENCES sessions(id),
		player_id           UUID NOT NULL,
		identity            TEXT NOT NULL,
		display_name        TEXT NOT NULL,
		rank                INT NOT NULL,
		score               INT NOT NULL,
		inventory_remaining INT NOT NULL,
		did_win             BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (session_id, player_id)
	)`,
}

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
