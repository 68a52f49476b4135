package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/hlfeed/internal/database"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSQLiteQueue(t *testing.T, c *clock) Queue {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	q := NewSQLite(db, time.Minute)
	q.now = c.now
	return q
}

func newRedisQueue(t *testing.T, c *clock) Queue {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := NewRedis(rdb, "test", time.Minute)
	q.now = c.now
	return q
}

var backends = []struct {
	name string
	open func(*testing.T, *clock) Queue
}{
	{"sqlite", newSQLiteQueue},
	{"redis", newRedisQueue},
}

func TestQueueContract(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty claim", func(t *testing.T) {
				q := b.open(t, &clock{t: time.Now()})
				job, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, job)
			})

			t.Run("enqueue claim ack", func(t *testing.T) {
				q := b.open(t, &clock{t: time.Now()})
				id, err := q.Enqueue(ctx, JobProcessMediaItem, []string{"42"}, 0)
				require.NoError(t, err)

				job, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, id, job.ID)
				assert.Equal(t, JobProcessMediaItem, job.Name)
				assert.Equal(t, []string{"42"}, job.Args)
				assert.Equal(t, 1, job.Attempts)

				again, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, again, "leased job must not be claimed twice")

				require.NoError(t, q.Ack(ctx, job))
				after, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, after)
			})

			t.Run("delay", func(t *testing.T) {
				c := &clock{t: time.Now()}
				q := b.open(t, c)
				_, err := q.Enqueue(ctx, JobScanLibrary, []string{"1"}, 10*time.Second)
				require.NoError(t, err)

				job, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, job)

				c.advance(11 * time.Second)
				job, err = q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, JobScanLibrary, job.Name)
			})

			t.Run("retry counts attempts", func(t *testing.T) {
				c := &clock{t: time.Now()}
				q := b.open(t, c)
				_, err := q.Enqueue(ctx, JobProcessMediaItem, []string{"7"}, 0)
				require.NoError(t, err)

				job, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NoError(t, q.Retry(ctx, job, 5*time.Second, errors.New("boom")))

				none, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, none)

				c.advance(6 * time.Second)
				job, err = q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, 2, job.Attempts)
				assert.Equal(t, "boom", job.LastError)
			})

			t.Run("expired lease redelivers", func(t *testing.T) {
				c := &clock{t: time.Now()}
				q := b.open(t, c)
				_, err := q.Enqueue(ctx, JobProcessMediaItem, []string{"9"}, 0)
				require.NoError(t, err)

				first, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, first)

				c.advance(2 * time.Minute)
				second, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, second)
				assert.Equal(t, first.ID, second.ID)
				assert.Equal(t, 2, second.Attempts)
			})

			t.Run("extend renews lease", func(t *testing.T) {
				c := &clock{t: time.Now()}
				q := b.open(t, c)
				_, err := q.Enqueue(ctx, JobProcessMediaItem, []string{"9"}, 0)
				require.NoError(t, err)

				job, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)

				c.advance(50 * time.Second)
				require.NoError(t, q.Extend(ctx, job))
				c.advance(50 * time.Second)
				none, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, none, "renewed lease must not redeliver")

				c.advance(11 * time.Second)
				again, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NotNil(t, again)
				assert.Equal(t, job.ID, again.ID)
			})

			t.Run("extend after ack is a no-op", func(t *testing.T) {
				q := b.open(t, &clock{t: time.Now()})
				_, err := q.Enqueue(ctx, JobScanLibrary, []string{"1"}, 0)
				require.NoError(t, err)
				job, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NoError(t, q.Ack(ctx, job))
				require.NoError(t, q.Extend(ctx, job))

				none, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, none)
			})

			t.Run("bury removes job", func(t *testing.T) {
				q := b.open(t, &clock{t: time.Now()})
				_, err := q.Enqueue(ctx, JobDiscoverLibraries, nil, 0)
				require.NoError(t, err)
				job, err := q.Claim(ctx)
				require.NoError(t, err)
				require.NoError(t, q.Bury(ctx, job, errors.New("dead")))

				none, err := q.Claim(ctx)
				require.NoError(t, err)
				assert.Nil(t, none)
			})
		})
	}
}

func TestErrStringTruncates(t *testing.T) {
	assert.Equal(t, "", errString(nil))
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, errString(errors.New(string(long))), 2000)
}
