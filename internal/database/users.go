package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// GetUserEmbedding returns nil, nil for unknown users.
func (db *DB) GetUserEmbedding(ctx context.Context, userID string) (*types.UserEmbedding, error) {
	var (
		weights   string
		updatedAt string
		e         = types.UserEmbedding{UserID: userID}
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT genre_weights, interaction_count, updated_at FROM user_embeddings WHERE user_id = ?`, userID,
	).Scan(&weights, &e.InteractionCount, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.GenreWeights = map[string]float64{}
	if weights != "" {
		if err := json.Unmarshal([]byte(weights), &e.GenreWeights); err != nil {
			return nil, fmt.Errorf("decode genre weights for %s: %w", userID, err)
		}
	}
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// UpsertUserEmbedding writes the whole row. Last writer wins.
func (db *DB) UpsertUserEmbedding(ctx context.Context, e *types.UserEmbedding) error {
	weights := e.GenreWeights
	if weights == nil {
		weights = map[string]float64{}
	}
	w, err := encodeJSON(weights)
	if err != nil {
		return fmt.Errorf("encode genre weights: %w", err)
	}
	e.UpdatedAt = time.Now().UTC()
	_, err = db.conn.ExecContext(ctx, `
INSERT INTO user_embeddings (user_id, genre_weights, interaction_count, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET genre_weights = excluded.genre_weights,
	interaction_count = excluded.interaction_count, updated_at = excluded.updated_at`,
		e.UserID, w, e.InteractionCount, fmtTime(e.UpdatedAt),
	)
	return err
}

// EnsureUserEmbedding creates an empty embedding row if none exists.
// Returns true when a row was created.
func (db *DB) EnsureUserEmbedding(ctx context.Context, userID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_embeddings (user_id, genre_weights, interaction_count, updated_at) VALUES (?, '{}', 0, ?)`,
		userID, fmtTime(time.Now()),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReplaceTasteSelections swaps a user's onboarding picks atomically.
func (db *DB) ReplaceTasteSelections(ctx context.Context, userID string, sel []types.TasteSelection) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM taste_selections WHERE user_id = ?`, userID); err != nil {
		return rollback(tx, err)
	}
	now := fmtTime(time.Now())
	for _, s := range sel {
		_, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO taste_selections (user_id, media_key, title, genres, created_at) VALUES (?, ?, ?, ?, ?)`,
			userID, s.MediaKey, s.Title, encodeList(s.Genres), now,
		)
		if err != nil {
			return rollback(tx, err)
		}
	}
	return tx.Commit()
}

// TasteMediaKeys lists the media keys a user picked during onboarding.
func (db *DB) TasteMediaKeys(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT media_key FROM taste_selections WHERE user_id = ? ORDER BY media_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
