package database

import (
	"context"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// InsertInteraction appends one interaction. Rows are never updated.
func (db *DB) InsertInteraction(ctx context.Context, in *types.Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var watch any
	if in.WatchMs != nil {
		watch = *in.WatchMs
	}
	res, err := db.conn.ExecContext(ctx, `
INSERT INTO interactions (user_id, clip_id, action, watch_ms, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		in.UserID, in.ClipID, string(in.Action), watch, in.SessionID, fmtTime(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	in.ID, err = res.LastInsertId()
	return err
}

// ClipIDsByAction lists distinct clip ids the user hit with action after
// since. A zero since means all time.
func (db *DB) ClipIDsByAction(ctx context.Context, userID string, action types.Action, since time.Time) ([]string, error) {
	q := `SELECT DISTINCT clip_id FROM interactions WHERE user_id = ? AND action = ?`
	args := []any{userID, string(action)}
	if !since.IsZero() {
		q += ` AND created_at > ?`
		args = append(args, fmtTime(since))
	}
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InteractionCounts returns per-action totals for a user.
func (db *DB) InteractionCounts(ctx context.Context, userID string) (map[types.Action]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM interactions WHERE user_id = ? GROUP BY action`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.Action]int)
	for rows.Next() {
		var a string
		var n int
		if err := rows.Scan(&a, &n); err != nil {
			return nil, err
		}
		out[types.Action(a)] = n
	}
	return out, rows.Err()
}

// SavedClips returns active clips the user saved, newest save first.
func (db *DB) SavedClips(ctx context.Context, userID string, limit int) ([]types.Clip, error) {
	rows, err := db.conn.QueryContext(ctx, `
SELECT `+prefixed("c.", clipColumns)+` FROM clips c
JOIN (SELECT clip_id, MAX(created_at) AS saved_at FROM interactions
      WHERE user_id = ? AND action = ? GROUP BY clip_id) s ON s.clip_id = c.id
WHERE c.is_active = 1
ORDER BY s.saved_at DESC
LIMIT ?`,
		userID, string(types.ActionSave), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}
