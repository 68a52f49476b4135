package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS libraries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id TEXT NOT NULL,
    server_name TEXT NOT NULL DEFAULT '',
    library_key TEXT NOT NULL,
    title TEXT NOT NULL,
    type TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    total_items INTEGER NOT NULL DEFAULT 0,
    processed_items INTEGER NOT NULL DEFAULT 0,
    last_scanned TEXT,
    UNIQUE (server_id, library_key)
);

CREATE TABLE IF NOT EXISTS media_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rating_key TEXT UNIQUE NOT NULL,
    library_id INTEGER REFERENCES libraries(id),
    title TEXT NOT NULL,
    media_type TEXT NOT NULL,
    year INTEGER NOT NULL DEFAULT 0,
    genres TEXT NOT NULL DEFAULT '[]',
    actors TEXT NOT NULL DEFAULT '[]',
    director TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    poster_url TEXT NOT NULL DEFAULT '',
    content_rating TEXT NOT NULL DEFAULT '',
    file_path TEXT NOT NULL DEFAULT '',
    show_title TEXT NOT NULL DEFAULT '',
    season INTEGER NOT NULL DEFAULT 0,
    episode INTEGER NOT NULL DEFAULT 0,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    clips_generated INTEGER NOT NULL DEFAULT 0,
    last_processed TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_items_status ON media_items(processing_status);
CREATE INDEX IF NOT EXISTS idx_media_items_library ON media_items(library_id);

CREATE TABLE IF NOT EXISTS clips (
    id TEXT PRIMARY KEY,
    media_key TEXT NOT NULL,
    title TEXT NOT NULL,
    season_episode TEXT NOT NULL DEFAULT '',
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    thumbnails TEXT NOT NULL DEFAULT '[]',
    quote_match REAL NOT NULL DEFAULT 0,
    audio_energy REAL NOT NULL DEFAULT 0,
    scene_composition REAL NOT NULL DEFAULT 0,
    dialogue_density REAL NOT NULL DEFAULT 0,
    temporal_position REAL NOT NULL DEFAULT 0,
    composite_score REAL NOT NULL DEFAULT 0,
    genres TEXT NOT NULL DEFAULT '[]',
    actors TEXT NOT NULL DEFAULT '[]',
    director TEXT NOT NULL DEFAULT '',
    decade TEXT NOT NULL DEFAULT '',
    moods TEXT NOT NULL DEFAULT '[]',
    embedding TEXT NOT NULL DEFAULT '[]',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clips_media_active ON clips(media_key, is_active);

CREATE TABLE IF NOT EXISTS user_embeddings (
    user_id TEXT PRIMARY KEY,
    genre_weights TEXT NOT NULL DEFAULT '{}',
    interaction_count INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    clip_id TEXT NOT NULL,
    action TEXT NOT NULL,
    watch_ms INTEGER,
    session_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_user_action ON interactions(user_id, action, created_at);

CREATE TABLE IF NOT EXISTS taste_selections (
    user_id TEXT NOT NULL,
    media_key TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    genres TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    PRIMARY KEY (user_id, media_key)
);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "durable job queue",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    args TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'queued',
    attempts INTEGER NOT NULL DEFAULT 0,
    run_at TEXT NOT NULL,
    locked_until TEXT,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_runnable ON jobs(status, run_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
