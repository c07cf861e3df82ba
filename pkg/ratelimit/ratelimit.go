// Package ratelimit implements per-agent, per-operation admission control
// using a sliding window log evaluated against four tiers: hourly, minute,
// burst, and cooldown.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Window lengths for the count-based tiers.
const (
	HourWindow   = time.Hour
	MinuteWindow = time.Minute
	BurstWindow  = 10 * time.Second

	// RetentionHorizon bounds how long timestamps are kept; entries older
	// than this never influence a decision.
	RetentionHorizon = time.Hour
)

// Reason identifies the first violated tier of a denied request.
type Reason string

const (
	ReasonHourly   Reason = "hourly_limit_exceeded"
	ReasonMinute   Reason = "minute_limit_exceeded"
	ReasonBurst    Reason = "burst_limit_exceeded"
	ReasonCooldown Reason = "cooldown_period"
)

// Limits carries the four tiers for one operation. A zero value disables
// the corresponding tier. CooldownSeconds is a hard floor between
// consecutive requests and is never scaled by reputation.
type Limits struct {
	Hourly          int `yaml:"hourly" json:"hourly"`
	Minute          int `yaml:"minute" json:"minute"`
	Burst           int `yaml:"burst" json:"burst"`
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// DefaultLimits is the conservative fallback policy applied to operations
// with no configured limits.
var DefaultLimits = Limits{
	Hourly:          60,
	Minute:          10,
	Burst:           3,
	CooldownSeconds: 1,
}

// Policy maps operation names to their base limits.
type Policy map[string]Limits

// Lookup returns the limits for an operation, falling back to
// DefaultLimits for unknown operations rather than erroring.
func (p Policy) Lookup(operation string) Limits {
	if l, ok := p[operation]; ok {
		return l
	}
	return DefaultLimits
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            Reason `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Limiter evaluates admission against a RequestLog.
// The check-then-append sequence is not atomic: concurrent requests for the
// same (agent, operation) pair can race past the limiter. Per-agent traffic
// is low-concurrency enough that the slack is accepted rather than
// serialized here.
type Limiter struct {
	log RequestLog
	now func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	cleaning bool
}

// New creates a limiter over the given request log.
func New(log RequestLog) *Limiter {
	return &Limiter{log: log, now: time.Now}
}

// IsAllowed evaluates the tiers in strict order: hourly, minute, burst,
// cooldown. The first violated tier determines the denial reason; later
// tiers are not evaluated. An error means the backing log is unavailable
// and callers must fail closed.
func (l *Limiter) IsAllowed(ctx context.Context, agentID, operation string, limits Limits) (Decision, error) {
	now := l.now()

	if limits.Hourly > 0 {
		d, violated, err := l.checkWindow(ctx, agentID, operation, now, HourWindow, limits.Hourly, ReasonHourly)
		if err != nil {
			return Decision{}, err
		}
		if violated {
			return d, nil
		}
	}

	if limits.Minute > 0 {
		d, violated, err := l.checkWindow(ctx, agentID, operation, now, MinuteWindow, limits.Minute, ReasonMinute)
		if err != nil {
			return Decision{}, err
		}
		if violated {
			return d, nil
		}
	}

	if limits.Burst > 0 {
		count, err := l.log.CountInWindow(ctx, agentID, operation, now.Add(-BurstWindow))
		if err != nil {
			return Decision{}, fmt.Errorf("count burst window: %w", err)
		}
		if count >= limits.Burst {
			// The burst window is short enough that the fixed window
			// length is reported instead of a per-timestamp bound.
			return Decision{
				Allowed:           false,
				Reason:            ReasonBurst,
				RetryAfterSeconds: int(BurstWindow / time.Second),
			}, nil
		}
	}

	if limits.CooldownSeconds > 0 {
		last, ok, err := l.log.Last(ctx, agentID, operation)
		if err != nil {
			return Decision{}, fmt.Errorf("last request: %w", err)
		}
		if ok {
			cooldown := time.Duration(limits.CooldownSeconds) * time.Second
			elapsed := now.Sub(last)
			if elapsed < cooldown {
				return Decision{
					Allowed:           false,
					Reason:            ReasonCooldown,
					RetryAfterSeconds: ceilSeconds(cooldown - elapsed),
				}, nil
			}
		}
	}

	return Decision{Allowed: true}, nil
}

// checkWindow evaluates one count-based tier. The retry hint is computed
// only over timestamps currently inside that tier's window.
func (l *Limiter) checkWindow(ctx context.Context, agentID, operation string, now time.Time, window time.Duration, limit int, reason Reason) (Decision, bool, error) {
	windowStart := now.Add(-window)

	count, err := l.log.CountInWindow(ctx, agentID, operation, windowStart)
	if err != nil {
		return Decision{}, false, fmt.Errorf("count %s window: %w", reason, err)
	}
	if count < limit {
		return Decision{}, false, nil
	}

	retry := 1
	oldest, ok, err := l.log.OldestInWindow(ctx, agentID, operation, windowStart)
	if err != nil {
		return Decision{}, false, fmt.Errorf("oldest in %s window: %w", reason, err)
	}
	if ok {
		retry = ceilSeconds(oldest.Add(window).Sub(now))
		if retry < 1 {
			retry = 1
		}
	}

	return Decision{Allowed: false, Reason: reason, RetryAfterSeconds: retry}, true, nil
}

// AddRequest appends the current timestamp to the log. Callers invoke it
// only after an allowed decision.
func (l *Limiter) AddRequest(ctx context.Context, agentID, operation string) error {
	return l.log.Record(ctx, agentID, operation, l.now())
}

// Cleanup evicts timestamps older than the retention horizon.
func (l *Limiter) Cleanup(ctx context.Context) error {
	return l.log.Evict(ctx, l.now().Add(-RetentionHorizon))
}

// StartCleanup launches a background eviction loop on the given interval.
// It is a no-op if a loop is already running.
func (l *Limiter) StartCleanup(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cleaning {
		return
	}
	l.cleaning = true
	l.stopCh = make(chan struct{})

	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = l.Cleanup(context.Background())
			case <-stop:
				return
			}
		}
	}(l.stopCh)
}

// StopCleanup cancels the background eviction loop.
func (l *Limiter) StopCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cleaning {
		return
	}
	close(l.stopCh)
	l.cleaning = false
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
