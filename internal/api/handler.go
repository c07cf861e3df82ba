// Package api provides the HTTP surface: the human CRUD endpoints, the
// agent API with its governance middleware, and the AWI discovery
// manifest.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/awi-labs/awiblog/internal/blog"
	"github.com/awi-labs/awiblog/pkg/ratelimit"
	"github.com/awi-labs/awiblog/pkg/reputation"
	"github.com/awi-labs/awiblog/pkg/state"
)

// Handler carries the shared dependencies for all endpoints.
type Handler struct {
	log         *slog.Logger
	posts       *blog.Store
	sessions    *state.Manager
	limiter     *ratelimit.Limiter
	policy      ratelimit.Policy
	reputations *reputation.Registry
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(log *slog.Logger, posts *blog.Store, sessions *state.Manager, limiter *ratelimit.Limiter, policy ratelimit.Policy, reputations *reputation.Registry) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:         log,
		posts:       posts,
		sessions:    sessions,
		limiter:     limiter,
		policy:      policy,
		reputations: reputations,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
