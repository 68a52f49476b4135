package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// InsertJob queues a job to become runnable at runAt.
func (db *DB) InsertJob(ctx context.Context, j *types.Job) error {
	now := fmtTime(time.Now())
	_, err := db.conn.ExecContext(ctx, `
INSERT INTO jobs (id, name, args, status, attempts, run_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		j.ID, j.Name, encodeList(j.Args), string(types.JobQueued), fmtTime(j.RunAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.Name, err)
	}
	j.Status = types.JobQueued
	return nil
}

// ClaimJob leases the oldest runnable job until now+lease. A running job
// whose lease expired is runnable again, which gives at-least-once delivery.
// Returns nil, nil when nothing is due.
func (db *DB) ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*types.Job, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	ts := fmtTime(now)
	var (
		j      types.Job
		args   string
		status string
		runAt  string
	)
	err = tx.QueryRowContext(ctx, `
SELECT id, name, args, status, attempts, run_at, last_error FROM jobs
WHERE (status = ? AND run_at <= ?) OR (status = ? AND locked_until < ?)
ORDER BY run_at, created_at
LIMIT 1`,
		string(types.JobQueued), ts, string(types.JobRunning), ts,
	).Scan(&j.ID, &j.Name, &args, &status, &j.Attempts, &runAt, &j.LastError)
	if err == sql.ErrNoRows {
		return nil, rollback(tx, nil)
	}
	if err != nil {
		return nil, rollback(tx, err)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, attempts = attempts + 1, locked_until = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(types.JobRunning), fmtTime(now.Add(lease)), ts, j.ID, status,
	)
	if err != nil {
		return nil, rollback(tx, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, rollback(tx, nil)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	j.Args = decodeList(args)
	j.Status = types.JobRunning
	j.Attempts++
	j.RunAt = parseTime(runAt)
	return &j, nil
}

// ExtendJobLease pushes the lease of a running job out to until.
func (db *DB) ExtendJobLease(ctx context.Context, id string, until time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = ?`,
		fmtTime(until), fmtTime(time.Now()), id, string(types.JobRunning),
	)
	if err != nil {
		return fmt.Errorf("extend lease of job %s: %w", id, err)
	}
	return nil
}

func (db *DB) CompleteJob(ctx context.Context, id string) error {
	return db.setJob(ctx, id, types.JobDone, nil, "")
}

// RetryJob puts a job back in the queue to run at runAt.
func (db *DB) RetryJob(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return db.setJob(ctx, id, types.JobQueued, &runAt, lastErr)
}

// BuryJob marks a job dead after its retries are exhausted.
func (db *DB) BuryJob(ctx context.Context, id string, lastErr string) error {
	return db.setJob(ctx, id, types.JobDead, nil, lastErr)
}

func (db *DB) setJob(ctx context.Context, id string, status types.JobStatus, runAt *time.Time, lastErr string) error {
	_, err := db.conn.ExecContext(ctx, `
UPDATE jobs SET status = ?, run_at = COALESCE(?, run_at), locked_until = NULL,
	last_error = CASE WHEN ? = '' THEN last_error ELSE ? END, updated_at = ?
WHERE id = ?`,
		string(status), fmtTimePtr(runAt), lastErr, lastErr, fmtTime(time.Now()), id,
	)
	return err
}

// GetJob returns nil, nil when no row matches.
func (db *DB) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var (
		j      types.Job
		args   string
		status string
		runAt  string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, args, status, attempts, run_at, last_error FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Name, &args, &status, &j.Attempts, &runAt, &j.LastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	j.Args = decodeList(args)
	j.Status = types.JobStatus(status)
	j.RunAt = parseTime(runAt)
	return &j, nil
}

// CountJobsByStatus returns job counts keyed by status.
func (db *DB) CountJobsByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.JobStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[types.JobStatus(s)] = n
	}
	return out, rows.Err()
}
