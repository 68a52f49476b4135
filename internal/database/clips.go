package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

const clipColumns = `id, media_key, title, season_episode, start_ms, end_ms, duration_ms, file_path, thumbnails,
	quote_match, audio_energy, scene_composition, dialogue_density, temporal_position, composite_score,
	genres, actors, director, decade, moods, embedding, is_active, created_at`

// InsertClip persists a materialized clip. CreatedAt defaults to now.
func (db *DB) InsertClip(ctx context.Context, c *types.Clip) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	emb, err := encodeJSON(c.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
INSERT INTO clips (`+clipColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MediaKey, c.Title, c.EpisodeLabel, c.StartMs, c.EndMs, c.DurationMs, c.FilePath, encodeList(c.Thumbnails),
		c.Scores.QuoteMatch, c.Scores.AudioEnergy, c.Scores.SceneComposition, c.Scores.DialogueDensity, c.Scores.TemporalPosition, c.Composite,
		encodeList(c.Genres), encodeList(c.Actors), c.Director, c.Decade, encodeList(c.Moods), emb, boolInt(c.Active), fmtTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert clip %s: %w", c.ID, err)
	}
	return nil
}

// InsertClipGuarded inserts c only while its media item has fewer than quota
// active clips and no active clip whose midpoint lies within overlapMs of
// c's midpoint. The check and the insert are one statement, so concurrent
// runs on the same item cannot both pass it. It reports whether the row
// was written.
func (db *DB) InsertClipGuarded(ctx context.Context, c *types.Clip, overlapMs int64, quota int) (bool, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	emb, err := encodeJSON(c.Embedding)
	if err != nil {
		return false, fmt.Errorf("encode embedding: %w", err)
	}
	mid := c.MidpointMs()
	res, err := db.conn.ExecContext(ctx, `
INSERT INTO clips (`+clipColumns+`)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE (SELECT COUNT(*) FROM clips WHERE media_key = ? AND is_active = 1) < ?
AND NOT EXISTS (
	SELECT 1 FROM clips
	WHERE media_key = ? AND is_active = 1 AND ABS((start_ms + end_ms) / 2 - ?) <= ?
)`,
		c.ID, c.MediaKey, c.Title, c.EpisodeLabel, c.StartMs, c.EndMs, c.DurationMs, c.FilePath, encodeList(c.Thumbnails),
		c.Scores.QuoteMatch, c.Scores.AudioEnergy, c.Scores.SceneComposition, c.Scores.DialogueDensity, c.Scores.TemporalPosition, c.Composite,
		encodeList(c.Genres), encodeList(c.Actors), c.Director, c.Decade, encodeList(c.Moods), emb, boolInt(c.Active), fmtTime(c.CreatedAt),
		c.MediaKey, quota,
		c.MediaKey, mid, overlapMs,
	)
	if err != nil {
		return false, fmt.Errorf("insert clip %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetClip returns nil, nil when no row matches.
func (db *DB) GetClip(ctx context.Context, id string) (*types.Clip, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// CountActiveClips counts live clips for one media key.
func (db *DB) CountActiveClips(ctx context.Context, mediaKey string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clips WHERE media_key = ? AND is_active = 1`, mediaKey,
	).Scan(&n)
	return n, err
}

// ActiveClipsForMedia lists live clips for one media key in time order.
func (db *DB) ActiveClipsForMedia(ctx context.Context, mediaKey string) ([]types.Clip, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE media_key = ? AND is_active = 1 ORDER BY start_ms`, mediaKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

// RandomActiveClips samples up to limit live clips, skipping exclude.
func (db *DB) RandomActiveClips(ctx context.Context, exclude []string, limit int) ([]types.Clip, error) {
	q := `SELECT ` + clipColumns + ` FROM clips WHERE is_active = 1`
	args := make([]any, 0, len(exclude)+1)
	if len(exclude) > 0 {
		q += ` AND id NOT IN (` + placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	q += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

// DeactivateClip clears is_active. Clips are never hard-deleted.
func (db *DB) DeactivateClip(ctx context.Context, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE clips SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountClips returns total and active clip counts.
func (db *DB) CountClips(ctx context.Context) (total, active int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM clips`,
	).Scan(&total, &active)
	return total, active, err
}

func scanClip(s scanner) (types.Clip, error) {
	var (
		c          types.Clip
		thumbnails string
		genres     string
		actors     string
		moods      string
		embedding  string
		active     int
		createdAt  string
	)
	err := s.Scan(&c.ID, &c.MediaKey, &c.Title, &c.EpisodeLabel, &c.StartMs, &c.EndMs, &c.DurationMs, &c.FilePath, &thumbnails,
		&c.Scores.QuoteMatch, &c.Scores.AudioEnergy, &c.Scores.SceneComposition, &c.Scores.DialogueDensity, &c.Scores.TemporalPosition, &c.Composite,
		&genres, &actors, &c.Director, &c.Decade, &moods, &embedding, &active, &createdAt)
	if err != nil {
		return types.Clip{}, err
	}
	c.Thumbnails = decodeList(thumbnails)
	c.Genres = decodeList(genres)
	c.Actors = decodeList(actors)
	c.Moods = decodeList(moods)
	if embedding != "" {
		if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
			return types.Clip{}, fmt.Errorf("decode embedding of clip %s: %w", c.ID, err)
		}
	}
	c.Active = active != 0
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func scanClips(rows *sql.Rows) ([]types.Clip, error) {
	var out []types.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
