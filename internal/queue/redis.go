package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/forPelevin/hlfeed/internal/types"
)

// Redis stores each job as a hash and tracks scheduling in two sorted sets:
// due (score = run time) and leased (score = lease expiry).
type Redis struct {
	rdb    *goredis.Client
	prefix string
	lease  time.Duration
	now    func() time.Time
}

// DialRedis connects and pings before returning.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedis(rdb *goredis.Client, prefix string, lease time.Duration) *Redis {
	if prefix == "" {
		prefix = "hlfeed"
	}
	if lease <= 0 {
		lease = 30 * time.Minute
	}
	return &Redis{rdb: rdb, prefix: prefix, lease: lease, now: time.Now}
}

func (q *Redis) jobKey(id string) string { return q.prefix + ":job:" + id }
func (q *Redis) dueKey() string          { return q.prefix + ":due" }
func (q *Redis) leasedKey() string       { return q.prefix + ":leased" }
func (q *Redis) deadKey() string         { return q.prefix + ":dead" }

func (q *Redis) Enqueue(ctx context.Context, name string, args []string, delay time.Duration) (string, error) {
	id := uuid.NewString()
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	runAt := q.now().Add(delay)
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), map[string]interface{}{
			"name":     name,
			"args":     string(b),
			"attempts": 0,
			"run_at":   runAt.UnixMilli(),
		})
		p.ZAdd(ctx, q.dueKey(), goredis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis enqueue %s: %w", name, err)
	}
	return id, nil
}

func (q *Redis) Claim(ctx context.Context) (*types.Job, error) {
	now := q.now()
	if err := q.requeueExpired(ctx, now); err != nil {
		return nil, err
	}

	ids, err := q.rdb.ZRangeByScore(ctx, q.dueKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due scan: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]
	// ZREM decides the race between consumers.
	removed, err := q.rdb.ZRem(ctx, q.dueKey(), id).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, nil
	}

	var fields *goredis.MapStringStringCmd
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAdd(ctx, q.leasedKey(), goredis.Z{Score: float64(now.Add(q.lease).UnixMilli()), Member: id})
		p.HIncrBy(ctx, q.jobKey(id), "attempts", 1)
		fields = p.HGetAll(ctx, q.jobKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis lease %s: %w", id, err)
	}
	return decodeJob(id, fields.Val())
}

func (q *Redis) requeueExpired(ctx context.Context, now time.Time) error {
	expired, err := q.rdb.ZRangeByScore(ctx, q.leasedKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("redis lease scan: %w", err)
	}
	for _, id := range expired {
		n, err := q.rdb.ZRem(ctx, q.leasedKey(), id).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.ZAdd(ctx, q.dueKey(), goredis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Extend only touches jobs still in the leased set.
func (q *Redis) Extend(ctx context.Context, job *types.Job) error {
	until := q.now().Add(q.lease)
	err := q.rdb.ZAddArgs(ctx, q.leasedKey(), goredis.ZAddArgs{
		XX:      true,
		Members: []goredis.Z{{Score: float64(until.UnixMilli()), Member: job.ID}},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis extend %s: %w", job.ID, err)
	}
	return nil
}

func (q *Redis) Ack(ctx context.Context, job *types.Job) error {
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, q.leasedKey(), job.ID)
		p.Del(ctx, q.jobKey(job.ID))
		return nil
	})
	return err
}

func (q *Redis) Retry(ctx context.Context, job *types.Job, delay time.Duration, cause error) error {
	runAt := q.now().Add(delay)
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, q.leasedKey(), job.ID)
		p.HSet(ctx, q.jobKey(job.ID), "last_error", errString(cause), "run_at", runAt.UnixMilli())
		p.ZAdd(ctx, q.dueKey(), goredis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}

func (q *Redis) Bury(ctx context.Context, job *types.Job, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, q.leasedKey(), job.ID)
		p.HSet(ctx, q.jobKey(job.ID), "last_error", errString(cause))
		p.SAdd(ctx, q.deadKey(), job.ID)
		return nil
	})
	return err
}

func decodeJob(id string, f map[string]string) (*types.Job, error) {
	if len(f) == 0 {
		return nil, fmt.Errorf("redis job %s has no payload", id)
	}
	j := &types.Job{ID: id, Name: f["name"], Status: types.JobRunning, LastError: f["last_error"]}
	if s := f["args"]; s != "" {
		if err := json.Unmarshal([]byte(s), &j.Args); err != nil {
			return nil, fmt.Errorf("decode args of %s: %w", id, err)
		}
	}
	j.Attempts, _ = strconv.Atoi(f["attempts"])
	if ms, err := strconv.ParseInt(f["run_at"], 10, 64); err == nil {
		j.RunAt = time.UnixMilli(ms)
	}
	return j, nil
}
