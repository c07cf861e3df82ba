package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/awi-labs/awiblog/pkg/observability"
	"github.com/awi-labs/awiblog/pkg/ratelimit"
	"github.com/awi-labs/awiblog/pkg/reputation"
	"github.com/awi-labs/awiblog/pkg/state"
)

// Identity and reputation arrive from an upstream auth collaborator as
// headers; authenticating them is out of scope here.
const (
	headerAgentID    = "X-Agent-ID"
	headerAgentName  = "X-Agent-Name"
	headerAgentScore = "X-Agent-Score"
)

type ctxKey int

const agentCtxKey ctxKey = iota

// agentContext is what the governance middleware resolves for a request.
type agentContext struct {
	AgentID   string
	AgentName string
	Rep       *reputation.Reputation
	Session   *state.SessionState
	Operation string
}

func agentFromContext(ctx context.Context) *agentContext {
	ac, _ := ctx.Value(agentCtxKey).(*agentContext)
	return ac
}

// effectiveLimits scales the count-based tiers by the reputation
// multiplier. The cooldown floor is deliberately left alone.
func effectiveLimits(base ratelimit.Limits, tier reputation.Tier) ratelimit.Limits {
	mult := reputation.Multiplier(tier)
	return ratelimit.Limits{
		Hourly:          reputation.ScaleLimit(base.Hourly, mult),
		Minute:          reputation.ScaleLimit(base.Minute, mult),
		Burst:           reputation.ScaleLimit(base.Burst, mult),
		CooldownSeconds: base.CooldownSeconds,
	}
}

// govern wraps an agent operation with the governance pipeline: resolve
// identity and reputation, evaluate admission against the effective
// limits, record the request, then load or create the session.
//
// Failure policy is asymmetric on purpose: a broken limiter denies
// (fail closed, 503), a broken state store lets the request through
// without a session (fail open).
func (h *Handler) govern(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(headerAgentID)
		if agentID == "" {
			Error(w, http.StatusUnauthorized, "missing agent identity")
			return
		}
		agentName := r.Header.Get(headerAgentName)
		if agentName == "" {
			agentName = agentID
		}

		rep := h.resolveReputation(agentID, r.Header.Get(headerAgentScore))

		limits := effectiveLimits(h.policy.Lookup(operation), rep.CurrentTier())
		decision, err := h.limiter.IsAllowed(r.Context(), agentID, operation, limits)
		if err != nil {
			h.log.Error("rate limiter unavailable",
				"agent_id", agentID, "operation", operation, "error", err)
			observability.RecordRateLimitDecision(operation, "error")
			Error(w, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}
		if !decision.Allowed {
			observability.RecordRateLimitDecision(operation, "denied")
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			JSON(w, http.StatusTooManyRequests, map[string]any{
				"error":               "rate limit exceeded",
				"reason":              decision.Reason,
				"retry_after_seconds": decision.RetryAfterSeconds,
			})
			return
		}
		observability.RecordRateLimitDecision(operation, "allowed")

		if err := h.limiter.AddRequest(r.Context(), agentID, operation); err != nil {
			h.log.Error("record request failed",
				"agent_id", agentID, "operation", operation, "error", err)
		}

		ac := &agentContext{
			AgentID:   agentID,
			AgentName: agentName,
			Rep:       rep,
			Operation: operation,
		}

		sess, created, err := h.sessions.EnsureSession(r.Context(), agentID, agentName, r.URL.Path)
		if err != nil {
			h.log.Error("session load failed, proceeding without state",
				"agent_id", agentID, "error", err)
		} else {
			ac.Session = sess
			if created {
				observability.SessionStarted()
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), agentCtxKey, ac)))
	}
}

func (h *Handler) resolveReputation(agentID, scoreHeader string) *reputation.Reputation {
	if scoreHeader != "" {
		if score, err := strconv.Atoi(scoreHeader); err == nil {
			return h.reputations.GetOrSeed(agentID, score)
		}
	}
	return h.reputations.Get(agentID)
}
