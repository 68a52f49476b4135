package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/hlfeed/internal/database"
	"github.com/forPelevin/hlfeed/internal/types"
)

// SQLite keeps jobs in the same database file as the rest of the state.
type SQLite struct {
	db    *database.DB
	lease time.Duration
	now   func() time.Time
}

func NewSQLite(db *database.DB, lease time.Duration) *SQLite {
	if lease <= 0 {
		lease = 30 * time.Minute
	}
	return &SQLite{db: db, lease: lease, now: time.Now}
}

func (q *SQLite) Enqueue(ctx context.Context, name string, args []string, delay time.Duration) (string, error) {
	j := &types.Job{ID: uuid.NewString(), Name: name, Args: args, RunAt: q.now().Add(delay)}
	if err := q.db.InsertJob(ctx, j); err != nil {
		return "", err
	}
	return j.ID, nil
}

func (q *SQLite) Claim(ctx context.Context) (*types.Job, error) {
	return q.db.ClaimJob(ctx, q.now(), q.lease)
}

func (q *SQLite) Extend(ctx context.Context, job *types.Job) error {
	return q.db.ExtendJobLease(ctx, job.ID, q.now().Add(q.lease))
}

func (q *SQLite) Ack(ctx context.Context, job *types.Job) error {
	return q.db.CompleteJob(ctx, job.ID)
}

func (q *SQLite) Retry(ctx context.Context, job *types.Job, delay time.Duration, cause error) error {
	return q.db.RetryJob(ctx, job.ID, q.now().Add(delay), errString(cause))
}

func (q *SQLite) Bury(ctx context.Context, job *types.Job, cause error) error {
	return q.db.BuryJob(ctx, job.ID, errString(cause))
}
