package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

const libraryColumns = `id, server_id, server_name, library_key, title, type, enabled, total_items, processed_items, last_scanned`

// UpsertLibrary creates a library or refreshes its title and type. The
// enabled flag is only written on creation so operator choices survive
// rediscovery. Returns true when the row was created.
func (db *DB) UpsertLibrary(ctx context.Context, l *types.Library) (bool, error) {
	var id int64
	var enabled int
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, enabled FROM libraries WHERE server_id = ? AND library_key = ?`, l.ServerID, l.Key,
	).Scan(&id, &enabled)
	switch {
	case err == sql.ErrNoRows:
		res, err := db.conn.ExecContext(ctx, `
INSERT INTO libraries (server_id, server_name, library_key, title, type, enabled)
VALUES (?, ?, ?, ?, ?, ?)`,
			l.ServerID, l.ServerName, l.Key, l.Title, l.Type, boolInt(l.Enabled),
		)
		if err != nil {
			return false, fmt.Errorf("insert library %s: %w", l.Key, err)
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE libraries SET server_name = ?, title = ?, type = ? WHERE id = ?`,
		l.ServerName, l.Title, l.Type, id,
	)
	if err != nil {
		return false, fmt.Errorf("update library %s: %w", l.Key, err)
	}
	l.ID = id
	l.Enabled = enabled != 0
	return false, nil
}

// GetLibrary returns nil, nil when no row matches.
func (db *DB) GetLibrary(ctx context.Context, id int64) (*types.Library, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	l, err := scanLibrary(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (db *DB) ListLibraries(ctx context.Context, enabledOnly bool) ([]types.Library, error) {
	q := `SELECT ` + libraryColumns + ` FROM libraries`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY id`
	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) SetLibraryEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE libraries SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	return err
}

// UpdateLibraryProgress stores derived counters. A nil scannedAt leaves
// last_scanned unchanged.
func (db *DB) UpdateLibraryProgress(ctx context.Context, id int64, total, processed int, scannedAt *time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
UPDATE libraries SET total_items = ?, processed_items = ?, last_scanned = COALESCE(?, last_scanned)
WHERE id = ?`,
		total, processed, fmtTimePtr(scannedAt), id,
	)
	return err
}

func scanLibrary(s scanner) (types.Library, error) {
	var (
		l           types.Library
		enabled     int
		lastScanned sql.NullString
	)
	err := s.Scan(&l.ID, &l.ServerID, &l.ServerName, &l.Key, &l.Title, &l.Type, &enabled,
		&l.TotalItems, &l.ProcessedItems, &lastScanned)
	if err != nil {
		return types.Library{}, err
	}
	l.Enabled = enabled != 0
	l.LastScanned = parseTimePtr(lastScanned)
	return l, nil
}
