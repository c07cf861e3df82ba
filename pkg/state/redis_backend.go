package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend using Redis. It provides distributed
// session storage suitable for multi-node deployments; all expiry is
// delegated to Redis TTLs.
type RedisBackend struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all state keys (default: "awiblog:state:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a new Redis state backend and verifies the
// connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "awiblog:state:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{client: client, prefix: prefix}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing
// client. This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "awiblog:state:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Key helpers
func (b *RedisBackend) sessionKey(sessionID string) string {
	return b.prefix + "session:" + sessionID
}

func (b *RedisBackend) agentIndexKey(agentID string) string {
	return b.prefix + "agent:" + agentID
}

func (b *RedisBackend) diffKey(sessionID string) string {
	return b.prefix + "diff:" + sessionID
}

func (b *RedisBackend) cacheKey(key string) string {
	return b.prefix + "cache:" + key
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveSession persists the session record and agent index entry under the
// session TTL.
func (b *RedisBackend) SaveSession(ctx context.Context, s *SessionState, ttl time.Duration) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.sessionKey(s.SessionID), data, ttl)
	// The index shares the session's TTL so a stale pointer can never
	// outlive its session.
	pipe.Set(ctx, b.agentIndexKey(s.AgentID), s.SessionID, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession retrieves a session record by ID.
func (b *RedisBackend) LoadSession(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// SessionForAgent resolves the agent index to a session id.
func (b *RedisBackend) SessionForAgent(ctx context.Context, agentID string) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	id, err := b.client.Get(ctx, b.agentIndexKey(agentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("get agent index: %w", err)
	}
	return id, nil
}

// Touch refreshes the session and index TTLs without rewriting the record.
func (b *RedisBackend) Touch(ctx context.Context, sessionID, agentID string, ttl time.Duration) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	ok, err := b.client.Expire(ctx, b.sessionKey(sessionID), ttl).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}

	// Index refresh piggybacks on the session refresh; a missing index is
	// rebuilt by the next SaveSession rather than failing the touch.
	_ = b.client.Expire(ctx, b.agentIndexKey(agentID), ttl).Err()
	return nil
}

// DeleteSession removes the record, agent index entry, and diff slot.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID, agentID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.sessionKey(sessionID))
	pipe.Del(ctx, b.agentIndexKey(agentID))
	pipe.Del(ctx, b.diffKey(sessionID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveDiff overwrites the single-slot last diff under its own TTL.
func (b *RedisBackend) SaveDiff(ctx context.Context, diff *DiffRecord, ttl time.Duration) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}

	if err := b.client.Set(ctx, b.diffKey(diff.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save diff: %w", err)
	}
	return nil
}

// LoadDiff retrieves the last diff for a session.
func (b *RedisBackend) LoadDiff(ctx context.Context, sessionID string) (*DiffRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.diffKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDiffNotFound
		}
		return nil, fmt.Errorf("get diff: %w", err)
	}

	var diff DiffRecord
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return &diff, nil
}

// SaveCache stores a query result payload under its content-addressed key.
func (b *RedisBackend) SaveCache(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	if err := b.client.Set(ctx, b.cacheKey(key), []byte(payload), ttl).Err(); err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// LoadCache retrieves a cached payload.
func (b *RedisBackend) LoadCache(ctx context.Context, key string) (json.RawMessage, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return json.RawMessage(data), nil
}

// CacheExists reports whether a cache entry is live without fetching it.
func (b *RedisBackend) CacheExists(ctx context.Context, key string) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}

	n, err := b.client.Exists(ctx, b.cacheKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check cache entry: %w", err)
	}
	return n > 0, nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}
