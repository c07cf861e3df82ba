package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisLog(t *testing.T) *RedisLog {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := NewRedisLog(client, "test:ratelimit:")

	t.Cleanup(func() {
		_ = log.Close()
		_ = client.Close()
	})

	return log
}

func TestRedisLog_RecordAndCount(t *testing.T) {
	log := setupRedisLog(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-50 * time.Minute, -30 * time.Minute, -10 * time.Minute} {
		if err := log.Record(ctx, "agent-1", "list_posts", now.Add(offset)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	count, err := log.CountInWindow(ctx, "agent-1", "list_posts", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountInWindow failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 in hourly window, got %d", count)
	}

	count, err = log.CountInWindow(ctx, "agent-1", "list_posts", now.Add(-20*time.Minute))
	if err != nil {
		t.Fatalf("CountInWindow failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 in 20m window, got %d", count)
	}
}

func TestRedisLog_SameMillisecondRequestsStayDistinct(t *testing.T) {
	log := setupRedisLog(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := log.Record(ctx, "a", "op", ts); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	count, err := log.CountInWindow(ctx, "a", "op", ts.Add(-time.Second))
	if err != nil {
		t.Fatalf("CountInWindow failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 distinct entries, got %d", count)
	}
}

func TestRedisLog_OldestAndLast(t *testing.T) {
	log := setupRedisLog(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	oldest := now.Add(-40 * time.Minute)
	last := now.Add(-5 * time.Minute)
	for _, ts := range []time.Time{oldest, now.Add(-20 * time.Minute), last} {
		if err := log.Record(ctx, "a", "op", ts); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, ok, err := log.OldestInWindow(ctx, "a", "op", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("OldestInWindow failed: %v", err)
	}
	if !ok || !got.Equal(oldest) {
		t.Errorf("oldest: got %v ok=%v, want %v", got, ok, oldest)
	}

	got, ok, err = log.Last(ctx, "a", "op")
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if !ok || !got.Equal(last) {
		t.Errorf("last: got %v ok=%v, want %v", got, ok, last)
	}

	_, ok, err = log.OldestInWindow(ctx, "a", "op", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("OldestInWindow failed: %v", err)
	}
	if ok {
		t.Error("expected no entry inside the minute window")
	}
}

func TestRedisLog_Evict(t *testing.T) {
	log := setupRedisLog(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if err := log.Record(ctx, "a", "op", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Record(ctx, "a", "op", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Record(ctx, "b", "op", now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := log.Evict(ctx, now.Add(-time.Hour)); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}

	count, err := log.CountInWindow(ctx, "a", "op", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountInWindow failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 surviving entry for a, got %d", count)
	}

	// Agent b's log became empty and its key left the index.
	keys, err := log.client.SMembers(ctx, log.keysKey()).Result()
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	for _, key := range keys {
		if key == log.entryKey("b", "op") {
			t.Error("empty key for agent b still indexed after evict")
		}
	}
}

func TestRedisLog_LimiterEndToEnd(t *testing.T) {
	rlog := setupRedisLog(t)
	l := New(rlog)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	limits := Limits{Hourly: 2, CooldownSeconds: 0}

	for i := 0; i < 2; i++ {
		d, err := l.IsAllowed(ctx, "a", "op", limits)
		if err != nil {
			t.Fatalf("IsAllowed failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d unexpectedly denied: %+v", i, d)
		}
		if err := l.AddRequest(ctx, "a", "op"); err != nil {
			t.Fatalf("AddRequest failed: %v", err)
		}
	}

	d, err := l.IsAllowed(ctx, "a", "op", limits)
	if err != nil {
		t.Fatalf("IsAllowed failed: %v", err)
	}
	if d.Allowed || d.Reason != ReasonHourly {
		t.Errorf("expected hourly denial, got %+v", d)
	}
	if d.RetryAfterSeconds < 1 {
		t.Errorf("retry hint below minimum: %d", d.RetryAfterSeconds)
	}
}

func TestRedisLog_Closed(t *testing.T) {
	log := setupRedisLog(t)
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := log.Record(context.Background(), "a", "op", time.Now()); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
