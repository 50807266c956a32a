package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// DefaultKeyPrefix namespaces the queue keys when none is configured.
const DefaultKeyPrefix = "quadrant"

// claimScript pops the oldest pending ID into the processing list and stamps
// its claim time in one step. Orphaned IDs without a body are dropped.
//
// KEYS: pending, processing, processing:meta, tasks. ARGV: claim time (unix ms).
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
	return false
end
local body = redis.call('HGET', KEYS[4], id)
if not body then
	redis.call('LREM', KEYS[2], 1, id)
	return false
end
redis.call('HSET', KEYS[3], id, ARGV[1])
return {id, body}
`)

// buryScript moves a claimed task whose body cannot be decoded out of the
// processing list into the dead-letter hash, so recovery never requeues it.
//
// KEYS: processing, processing:meta, tasks, dead. ARGV: task ID, raw body.
var buryScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
if removed > 0 then
	redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
end
return removed
`)

// completeScript removes one in-flight entry and, only if it was present,
// its claim stamp and body.
//
// KEYS: processing, processing:meta, tasks. ARGV: task ID.
var completeScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
if removed > 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('HDEL', KEYS[3], ARGV[1])
end
return removed
`)

// recoverScript requeues an in-flight ID if its claim stamp still equals the
// one observed during the staleness scan.
//
// KEYS: processing, processing:meta, pending. ARGV: task ID, observed claim time.
var recoverScript = redis.NewScript(`
local claimed = redis.call('HGET', KEYS[2], ARGV[1])
if claimed ~= ARGV[2] then
	return 0
end
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if removed > 0 then
	redis.call('LPUSH', KEYS[3], ARGV[1])
end
return removed
`)

// RedisConfig holds connection settings for the shared queue store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisQueue is the crash-durable Queue shared by all worker processes.
type RedisQueue struct {
	client     redis.UniversalClient
	clock      Clock
	pending    string
	processing string
	meta       string
	tasks      string
	dead       string
}

// NewRedisQueue builds a queue on an existing client. All keys share one hash
// tag so the scripts stay valid on Redis Cluster.
func NewRedisQueue(client redis.UniversalClient, prefix string, clock Clock) *RedisQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clock == nil {
		clock = SystemClock()
	}
	tag := "{" + prefix + "}"
	return &RedisQueue{
		client:     client,
		clock:      clock,
		pending:    tag + ":pending",
		processing: tag + ":processing",
		meta:       tag + ":processing:meta",
		tasks:      tag + ":tasks",
		dead:       tag + ":dead",
	}
}

// Enqueue stores the task body and pushes its ID to Pending in one transaction.
func (q *RedisQueue) Enqueue(ctx context.Context, task models.Task) (models.Task, error) {
	task, err := prepare(task)
	if err != nil {
		return models.Task{}, err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to encode task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.tasks, task.ID, body)
		pipe.LPush(ctx, q.pending, task.ID)
		return nil
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return task, nil
}

// Claim runs the claim script. A body that cannot be decoded is moved to the
// dead-letter hash and reported as an error.
func (q *RedisQueue) Claim(ctx context.Context) (models.Task, bool, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	reply, err := claimScript.Run(ctx, q.client,
		[]string{q.pending, q.processing, q.meta, q.tasks}, now).StringSlice()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, fmt.Errorf("failed to claim task: %w", err)
	}
	if len(reply) != 2 {
		return models.Task{}, false, fmt.Errorf("failed to claim task: unexpected reply of %d values", len(reply))
	}
	id, body := reply[0], reply[1]

	var task models.Task
	if err = json.Unmarshal([]byte(body), &task); err != nil {
		if errBury := buryScript.Run(ctx, q.client,
			[]string{q.processing, q.meta, q.tasks, q.dead}, id, body).Err(); errBury != nil {
			return models.Task{}, false, fmt.Errorf("failed to dead-letter task %s: %w", id, errBury)
		}
		return models.Task{}, false, fmt.Errorf("failed to decode claimed task %s, moved to %s: %w", id, q.dead, err)
	}
	return task, true, nil
}

// Complete runs the complete script.
func (q *RedisQueue) Complete(ctx context.Context, task models.Task) error {
	err := completeScript.Run(ctx, q.client,
		[]string{q.processing, q.meta, q.tasks}, task.ID).Err()
	if err != nil {
		return fmt.Errorf("failed to complete task %s: %w", task.ID, err)
	}
	return nil
}

// RecoverStale scans the in-flight index and requeues stale entries one
// script call at a time, so a concurrent Complete always wins.
func (q *RedisQueue) RecoverStale(ctx context.Context, timeout time.Duration) (int, error) {
	claims, err := q.client.HGetAll(ctx, q.meta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan in-flight index: %w", err)
	}

	now := q.clock.Now()
	recovered := 0
	for id, stamp := range claims {
		claimedAt, errParse := strconv.ParseInt(stamp, 10, 64)
		if errParse == nil && now.Sub(time.UnixMilli(claimedAt)) < timeout {
			continue
		}

		moved, errRun := recoverScript.Run(ctx, q.client,
			[]string{q.processing, q.meta, q.pending}, id, stamp).Int()
		if errRun != nil {
			return recovered, fmt.Errorf("failed to recover task %s: %w", id, errRun)
		}
		if moved > 0 {
			recovered++
		}
	}
	return recovered, nil
}

// Reset deletes every queue key, dead letters included.
func (q *RedisQueue) Reset(ctx context.Context) error {
	if err := q.client.Del(ctx, q.pending, q.processing, q.meta, q.tasks, q.dead).Err(); err != nil {
		return fmt.Errorf("failed to reset queue: %w", err)
	}
	return nil
}

// Stats reports list lengths.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.pending)
	inFlight := pipe.LLen(ctx, q.processing)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{Pending: pending.Val(), InFlight: inFlight.Val()}, nil
}
