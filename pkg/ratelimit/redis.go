package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog is a RequestLog backed by Redis sorted sets, suitable for
// multi-node deployments where admission decisions must share one log.
// Timestamps are scored in milliseconds; members carry a sequence suffix so
// same-millisecond requests stay distinct.
type RedisLog struct {
	client *redis.Client
	prefix string
	seq    atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewRedisLog creates a Redis-backed request log. An empty prefix defaults
// to "awiblog:ratelimit:".
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	if prefix == "" {
		prefix = "awiblog:ratelimit:"
	}
	return &RedisLog{client: client, prefix: prefix}
}

func (r *RedisLog) entryKey(agentID, operation string) string {
	return r.prefix + "log:" + logKey(agentID, operation)
}

func (r *RedisLog) keysKey() string {
	return r.prefix + "keys"
}

func (r *RedisLog) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

// Record appends a timestamp for (agentID, operation).
func (r *RedisLog) Record(ctx context.Context, agentID, operation string, ts time.Time) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	key := r.entryKey(agentID, operation)
	member := strconv.FormatInt(ts.UnixMilli(), 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts.UnixMilli()), Member: member})
	pipe.SAdd(ctx, r.keysKey(), key)
	// Keys self-expire a window past the retention horizon so an idle agent
	// leaves nothing behind even if Evict never runs.
	pipe.Expire(ctx, key, RetentionHorizon+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// CountInWindow counts timestamps at or after windowStart.
func (r *RedisLog) CountInWindow(ctx context.Context, agentID, operation string, windowStart time.Time) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	n, err := r.client.ZCount(ctx, r.entryKey(agentID, operation),
		strconv.FormatInt(windowStart.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count in window: %w", err)
	}
	return int(n), nil
}

// OldestInWindow returns the earliest timestamp at or after windowStart.
func (r *RedisLog) OldestInWindow(ctx context.Context, agentID, operation string, windowStart time.Time) (time.Time, bool, error) {
	if err := r.checkOpen(); err != nil {
		return time.Time{}, false, err
	}

	zs, err := r.client.ZRangeByScoreWithScores(ctx, r.entryKey(agentID, operation), &redis.ZRangeBy{
		Min:    strconv.FormatInt(windowStart.UnixMilli(), 10),
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest in window: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)), true, nil
}

// Last returns the most recent timestamp for (agentID, operation).
func (r *RedisLog) Last(ctx context.Context, agentID, operation string) (time.Time, bool, error) {
	if err := r.checkOpen(); err != nil {
		return time.Time{}, false, err
	}

	zs, err := r.client.ZRevRangeWithScores(ctx, r.entryKey(agentID, operation), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last request: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)), true, nil
}

// Evict drops timestamps older than the cutoff and removes empty keys from
// the key index.
func (r *RedisLog) Evict(ctx context.Context, cutoff time.Time) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	keys, err := r.client.SMembers(ctx, r.keysKey()).Result()
	if err != nil {
		return fmt.Errorf("list log keys: %w", err)
	}

	max := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	for _, key := range keys {
		if err := r.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
			return fmt.Errorf("evict %s: %w", key, err)
		}
		n, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("card %s: %w", key, err)
		}
		if n == 0 {
			pipe := r.client.Pipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.keysKey(), key)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("drop empty %s: %w", key, err)
			}
		}
	}
	return nil
}

// Close marks the log closed. The Redis client is owned by the caller and
// is not closed here.
func (r *RedisLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
