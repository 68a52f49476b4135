package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

const mediaColumns = `id, rating_key, library_id, title, media_type, year, genres, actors, director,
	duration_ms, poster_url, content_rating, file_path, show_title, season, episode,
	processing_status, clips_generated, last_processed, created_at, updated_at`

// UpsertMediaItem inserts a new item as pending, or refreshes catalog metadata
// of an existing one. Processing state is never touched on update.
// Returns true when the row was created.
func (db *DB) UpsertMediaItem(ctx context.Context, m *types.MediaItem) (bool, error) {
	existing, err := db.GetMediaItemByKey(ctx, m.RatingKey)
	if err != nil {
		return false, err
	}
	now := fmtTime(time.Now())
	if existing != nil {
		_, err := db.conn.ExecContext(ctx, `
UPDATE media_items SET library_id = ?, title = ?, media_type = ?, year = ?, genres = ?, actors = ?,
	director = ?, duration_ms = ?, poster_url = ?, content_rating = ?, file_path = ?, show_title = ?,
	season = ?, episode = ?, updated_at = ?
WHERE id = ?`,
			nullID(m.LibraryID), m.Title, string(m.Type), m.Year, encodeList(m.Genres), encodeList(m.Actors),
			m.Director, m.DurationMs, m.PosterURL, m.Rating, m.FilePath, m.ShowTitle,
			m.Season, m.Episode, now, existing.ID,
		)
		if err != nil {
			return false, fmt.Errorf("update media item %s: %w", m.RatingKey, err)
		}
		m.ID = existing.ID
		m.Status = existing.Status
		m.ClipsCreated = existing.ClipsCreated
		m.LastProcessed = existing.LastProcessed
		return false, nil
	}

	res, err := db.conn.ExecContext(ctx, `
INSERT INTO media_items (rating_key, library_id, title, media_type, year, genres, actors, director,
	duration_ms, poster_url, content_rating, file_path, show_title, season, episode,
	processing_status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RatingKey, nullID(m.LibraryID), m.Title, string(m.Type), m.Year, encodeList(m.Genres), encodeList(m.Actors), m.Director,
		m.DurationMs, m.PosterURL, m.Rating, m.FilePath, m.ShowTitle, m.Season, m.Episode,
		string(types.StatusPending), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert media item %s: %w", m.RatingKey, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	m.ID = id
	m.Status = types.StatusPending
	return true, nil
}

// GetMediaItem returns nil, nil when no row matches.
func (db *DB) GetMediaItem(ctx context.Context, id int64) (*types.MediaItem, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id)
	return scanMediaItemRow(row)
}

func (db *DB) GetMediaItemByKey(ctx context.Context, ratingKey string) (*types.MediaItem, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_items WHERE rating_key = ?`, ratingKey)
	return scanMediaItemRow(row)
}

func (db *DB) ListMediaItemsByStatus(ctx context.Context, status types.ProcessingStatus) ([]types.MediaItem, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media_items WHERE processing_status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMediaItems(rows)
}

// SetMediaStatus moves an item to status. A nil lastProcessed leaves the
// column unchanged.
func (db *DB) SetMediaStatus(ctx context.Context, id int64, status types.ProcessingStatus, lastProcessed *time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
UPDATE media_items SET processing_status = ?, last_processed = COALESCE(?, last_processed), updated_at = ?
WHERE id = ?`,
		string(status), fmtTimePtr(lastProcessed), fmtTime(time.Now()), id,
	)
	return err
}

// FinishMediaItem records a terminal run outcome together with the live clip count.
func (db *DB) FinishMediaItem(ctx context.Context, id int64, status types.ProcessingStatus, clips int, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
UPDATE media_items SET processing_status = ?, clips_generated = ?, last_processed = ?, updated_at = ?
WHERE id = ?`,
		string(status), clips, fmtTime(at), fmtTime(time.Now()), id,
	)
	return err
}

// ResetStaleProcessing moves items stuck in processing since before cutoff,
// or with no recorded start, back to pending.
func (db *DB) ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
UPDATE media_items SET processing_status = ?, updated_at = ?
WHERE processing_status = ? AND (last_processed IS NULL OR last_processed < ?)`,
		string(types.StatusPending), fmtTime(time.Now()), string(types.StatusProcessing), fmtTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMediaByStatus returns item counts keyed by status.
func (db *DB) CountMediaByStatus(ctx context.Context) (map[types.ProcessingStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT processing_status, COUNT(*) FROM media_items GROUP BY processing_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ProcessingStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[types.ProcessingStatus(s)] = n
	}
	return out, rows.Err()
}

// LibraryCounts returns total and completed item counts for one library.
func (db *DB) LibraryCounts(ctx context.Context, libraryID int64) (total, completed int, err error) {
	err = db.conn.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN processing_status = ? THEN 1 ELSE 0 END), 0)
FROM media_items WHERE library_id = ?`,
		string(types.StatusCompleted), libraryID,
	).Scan(&total, &completed)
	return total, completed, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMediaItem(s scanner) (types.MediaItem, error) {
	var (
		m             types.MediaItem
		libraryID     sql.NullInt64
		mediaType     string
		genres        string
		actors        string
		status        string
		lastProcessed sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := s.Scan(&m.ID, &m.RatingKey, &libraryID, &m.Title, &mediaType, &m.Year, &genres, &actors, &m.Director,
		&m.DurationMs, &m.PosterURL, &m.Rating, &m.FilePath, &m.ShowTitle, &m.Season, &m.Episode,
		&status, &m.ClipsCreated, &lastProcessed, &createdAt, &updatedAt)
	if err != nil {
		return types.MediaItem{}, err
	}
	m.LibraryID = libraryID.Int64
	m.Type = types.MediaType(mediaType)
	m.Genres = decodeList(genres)
	m.Actors = decodeList(actors)
	m.Status = types.ProcessingStatus(status)
	m.LastProcessed = parseTimePtr(lastProcessed)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

func scanMediaItemRow(row *sql.Row) (*types.MediaItem, error) {
	m, err := scanMediaItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func scanMediaItems(rows *sql.Rows) ([]types.MediaItem, error) {
	var out []types.MediaItem
	for rows.Next() {
		m, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
