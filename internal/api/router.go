package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/awi-labs/awiblog/pkg/observability"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// Human API coarse throttle.
	ThrottleRPS   float64
	ThrottleBurst int
}

// NewRouter assembles the full route tree: discovery, human CRUD, and the
// governed agent API.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(discoveryHeaders)

	r.Get(WellKnownPath, h.WellKnown)

	// Human API, behind the coarse per-client throttle.
	throttle := newClientThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst)
	r.Group(func(r chi.Router) {
		r.Use(throttle.middleware)
		r.Route("/api/posts", func(r chi.Router) {
			r.Get("/", h.ListPosts)
			r.Post("/", h.CreatePost)
			r.Get("/{id}", h.GetPost)
			r.Put("/{id}", h.UpdatePost)
			r.Delete("/{id}", h.DeletePost)
			r.Get("/{id}/comments", h.ListComments)
			r.Post("/{id}/comments", h.CreateComment)
		})
	})

	// Agent API. Content operations run through the governance pipeline;
	// session endpoints only need identity.
	r.Route("/api/agent", func(r chi.Router) {
		r.Get("/capabilities", h.Capabilities)

		r.Get("/posts", h.govern("list_posts", h.AgentListPosts))
		r.Post("/posts", h.govern("create_post", h.AgentCreatePost))
		r.Get("/posts/{id}", h.govern("get_post", h.AgentGetPost))
		r.Post("/posts/{id}/comments", h.govern("create_comment", h.AgentCreateComment))
		r.Get("/search", h.govern("search_posts", h.AgentSearchPosts))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.withSession(h.AgentSessionState))
			r.Delete("/", h.withSession(h.AgentSessionEnd))
			r.Get("/diff", h.withSession(h.AgentSessionDiff))
			r.Get("/history", h.withSession(h.AgentSessionHistory))
			r.Post("/touch", h.withSession(h.AgentSessionTouch))
		})
	})

	return r
}

// requestLogger emits one structured line per request and feeds the HTTP
// metrics.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(status), elapsed)
		h.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}
