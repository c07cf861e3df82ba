package api

import (
	"net/http"
)

// WellKnownPath is where the AWI manifest lives.
const WellKnownPath = "/.well-known/llm-text"

// manifest is the AWI discovery document. Autonomous clients find it
// either through the response headers or by fetching the well-known path
// directly.
var manifest = map[string]any{
	"awi": map[string]any{
		"name":          "awiblog",
		"version":       "1.0",
		"specification": "AWI/1.0",
	},
	"capabilities": map[string]any{
		"allowed_operations": []string{
			"list_posts", "get_post", "search_posts",
			"create_post", "create_comment",
		},
		"disallowed_operations": []string{
			"delete_post", "update_post",
		},
		"security_features": []string{
			"rate_limiting", "reputation_tiers", "content_classification",
		},
		"response_features": []string{
			"session_state", "state_diffs", "query_result_cache",
		},
	},
	"endpoints": map[string]any{
		"base":         "/api/agent",
		"capabilities": "/api/agent/capabilities",
		"session":      "/api/agent/session",
	},
	"authentication": map[string]any{
		"type":   "header",
		"header": headerAgentID,
	},
}

// discoveryHeaders advertises the agent API on every response.
func discoveryHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-AWI-Discovery", WellKnownPath)
		h.Set("X-Agent-API", "/api/agent")
		h.Set("X-Agent-Capabilities", "/api/agent/capabilities")
		h.Set("X-Agent-Registration", "header:"+headerAgentID)
		next.ServeHTTP(w, r)
	})
}

// WellKnown serves the AWI manifest.
func (h *Handler) WellKnown(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, manifest)
}

// Capabilities serves the manifest on the agent API itself, for clients
// that go straight to the base path.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, manifest)
}
