// Package reputation maps an agent's violation history to a trust tier
// and a numeric multiplier applied to its rate limits.
package reputation

import (
	"math"
	"sync"
	"time"
)

// Tier is the trust classification derived from an agent's score.
type Tier string

const (
	TierTrusted    Tier = "trusted"
	TierNormal     Tier = "normal"
	TierSuspicious Tier = "suspicious"
	TierRestricted Tier = "restricted"
)

// Severity classifies a violation event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score penalties per violation severity.
var severityPenalty = map[Severity]int{
	SeverityLow:      2,
	SeverityMedium:   5,
	SeverityHigh:     10,
	SeverityCritical: 20,
}

// MaxScore is the starting score for an agent with no violations.
const MaxScore = 100

// Reputation tracks a single agent's score and tier.
// Scores only fall; there is no recovery or decay mechanism.
// Reputation is safe for concurrent use.
type Reputation struct {
	mu    sync.RWMutex
	score int
	tier  Tier

	lastViolation time.Time
	violations    int
}

// New returns a reputation starting at MaxScore (trusted).
func New() *Reputation {
	return &Reputation{score: MaxScore, tier: TierTrusted}
}

// NewWithScore returns a reputation seeded from a persisted score.
func NewWithScore(score int) *Reputation {
	if score < 0 {
		score = 0
	}
	if score > MaxScore {
		score = MaxScore
	}
	return &Reputation{score: score, tier: tierForScore(score)}
}

// RecordViolation decrements the score for the given severity, floored at
// zero, and recomputes the tier immediately. Unknown severities are treated
// as low.
func (r *Reputation) RecordViolation(sev Severity) {
	penalty, ok := severityPenalty[sev]
	if !ok {
		penalty = severityPenalty[SeverityLow]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.score -= penalty
	if r.score < 0 {
		r.score = 0
	}
	r.tier = tierForScore(r.score)
	r.violations++
	r.lastViolation = time.Now().UTC()
}

// CurrentTier returns the tier for the current score.
func (r *Reputation) CurrentTier() Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tier
}

// Score returns the current score.
func (r *Reputation) Score() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.score
}

// Violations returns the number of recorded violations.
func (r *Reputation) Violations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.violations
}

func tierForScore(score int) Tier {
	switch {
	case score >= 80:
		return TierTrusted
	case score >= 40:
		return TierNormal
	case score >= 20:
		return TierSuspicious
	default:
		return TierRestricted
	}
}

// TierForScore exposes the fixed score thresholds for callers that carry
// reputation state externally (e.g. an auth layer handing over a raw score).
func TierForScore(score int) Tier {
	return tierForScore(score)
}

// Multiplier returns the rate-limit scalar for a tier.
func Multiplier(t Tier) float64 {
	switch t {
	case TierTrusted:
		return 2.0
	case TierNormal:
		return 1.0
	case TierSuspicious:
		return 0.5
	case TierRestricted:
		return 0.1
	default:
		return 1.0
	}
}

// ScaleLimit applies a multiplier to a base limit, rounding up so that a
// fraction of a request still admits one. Cooldowns are never scaled; only
// count-based limits go through here.
func ScaleLimit(base int, multiplier float64) int {
	if base <= 0 {
		return 0
	}
	return int(math.Ceil(float64(base) * multiplier))
}
