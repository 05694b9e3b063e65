// internal/database/archive.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/lampstand/internal/cache"
)

// Archive writes historian records to Postgres.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wraps a connected pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// WriteBatch persists records in a single transaction. Replayed records are
// ignored, so a batch can be retried after a partial failure.
func (a *Archive) WriteBatch(ctx context.Context, recs []cache.Record) error {
	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			var err error
			switch rec.Kind {
			case cache.KindMove:
				err = insertMoveTx(ctx, tx, rec)
			case cache.KindResult:
				err = recordResultTx(ctx, tx, rec)
			default:
				err = fmt.Errorf("unknown record kind %q", rec.Kind)
			}
			if err != nil {
				return fmt.Errorf("session %s: %w", rec.SessionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// MarkAbandoned flags a session that is still in progress as abandoned. It
// reports whether a row changed.
func (a *Archive) MarkAbandoned(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	tag, err := a.pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'abandoned', end_time = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark session %s abandoned: %w", sessionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func upsertSessionTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, mode, topic string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, mode, topic, status)
		VALUES ($1, $2, $3, 'in_progress')
		ON CONFLICT (id) DO UPDATE
		SET mode = COALESCE(NULLIF(EXCLUDED.mode, ''), sessions.mode),
		    topic = COALESCE(NULLIF(EXCLUDED.topic, ''), sessions.topic)
	`, sessionID, mode, topic)
	return err
}

func insertMoveTx(ctx context.Context, tx pgx.Tx, rec cache.Record) error {
	m := rec.Move
	if m == nil {
		return fmt.Errorf("move record without move")
	}
	if err := upsertSessionTx(ctx, tx, rec.SessionID, "", ""); err != nil {
		return err
	}

	card, err := json.Marshal(m.Card)
	if err != nil {
		return err
	}
	category := ""
	if m.Card.Payload != nil {
		category = string(m.Card.Payload.Category())
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO session_moves (
			session_id, move_index, move_id, turn_seq, author_id, category, card,
			rationale, verdict, feedback, points_awarded, played_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, move_index) DO NOTHING
	`,
		rec.SessionID, m.Index, m.MoveID, m.TurnSeq, m.AuthorID, category, card,
		m.Rationale, string(m.Verdict), m.Feedback, m.PointsAwarded, time.UnixMilli(rec.Timestamp).UTC(),
	)
	return err
}

func recordResultTx(ctx context.Context, tx pgx.Tx, rec cache.Record) error {
	r := rec.Result
	if r == nil {
		return fmt.Errorf("result record without result")
	}
	if err := upsertSessionTx(ctx, tx, rec.SessionID, r.Mode, r.Topic); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed', winner_id = $2, end_time = $3
		WHERE id = $1
	`, rec.SessionID, r.WinnerID, time.UnixMilli(rec.Timestamp).UTC()); err != nil {
		return err
	}

	for _, s := range r.Standings {
		didWin := r.WinnerID != nil && *r.WinnerID == s.PlayerID
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_results (
				session_id, player_id, identity, display_name, rank, score, inventory_remaining, did_win
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, player_id)
			DO UPDATE SET rank = $5, score = $6, inventory_remaining = $7, did_win = $8
		`, rec.SessionID, s.PlayerID, s.Identity, s.DisplayName, s.Rank, s.Score, s.InventoryRemaining, didWin); err != nil {
			return err
		}
	}
	return nil
}
