package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"video-subtitler/internal/domain"
	"video-subtitler/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.JobQueue = (*JobQueue)(nil)

const (
	queuePendingKey    = "jobs:pending"
	queueProcessingKey = "jobs:processing"
	queueScheduledKey  = "jobs:scheduled"
)

// luaPromoteDue moves scheduled ids whose time has come onto the pending list.
var luaPromoteDue = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #due`)

// JobQueue is a reliable queue: a pending list, an in-flight list that
// holds ids until Ack, and a sorted set of delayed ids.
type JobQueue struct {
	cli         *redis.Client
	pollTimeout time.Duration
	now         func() time.Time
}

func NewJobQueue(c *Client, pollTimeout time.Duration) *JobQueue {
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	return &JobQueue{cli: c.cli, pollTimeout: pollTimeout, now: time.Now}
}

func (q *JobQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	var err error
	if delay <= 0 {
		err = q.cli.LPush(ctx, queuePendingKey, jobID).Err()
	} else {
		at := q.now().Add(delay).UnixMilli()
		err = q.cli.ZAdd(ctx, queueScheduledKey, &redis.Z{Score: float64(at), Member: jobID}).Err()
	}
	if err != nil {
		return errors.Join(domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *JobQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	return luaPromoteDue.Run(ctx, q.cli, []string{queueScheduledKey, queuePendingKey}, now, 100).Err()
}

func (q *JobQueue) Dequeue(ctx context.Context) (string, error) {
	if err := q.promoteDue(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", errors.Join(domain.ErrQueueUnavailable, err)
	}
	id, err := q.cli.BRPopLPush(ctx, queuePendingKey, queueProcessingKey, q.pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", errors.Join(domain.ErrQueueUnavailable, err)
	}
	return id, nil
}

func (q *JobQueue) Ack(ctx context.Context, jobID string) error {
	return q.cli.LRem(ctx, queueProcessingKey, 1, jobID).Err()
}

// Recover returns ids left in flight by a stopped worker to the pending list.
func (q *JobQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.cli.RPopLPush(ctx, queueProcessingKey, queuePendingKey).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
