package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/awi-labs/awiblog/internal/blog"
	"github.com/awi-labs/awiblog/pkg/observability"
	"github.com/awi-labs/awiblog/pkg/reputation"
	"github.com/awi-labs/awiblog/pkg/state"
)

const agentPageSize = 20

type agentPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type agentCommentRequest struct {
	Content string `json:"content"`
}

// AgentListPosts handles GET /api/agent/posts: paginated browsing with the
// query result cache in front of the content store.
func (h *Handler) AgentListPosts(w http.ResponseWriter, r *http.Request) {
	ac := agentFromContext(r.Context())
	q := r.URL.Query()

	cursor := 1
	if v, err := strconv.Atoi(q.Get("cursor")); err == nil && v > 0 {
		cursor = v
	}
	author := q.Get("author")
	sort := sortParam(q.Get("sort"))

	filters := state.Map(map[string]state.Value{
		"op":     state.String("list_posts"),
		"cursor": state.Int(cursor),
		"author": state.String(author),
	})

	h.serveQuery(w, r, ac, "list_posts", filters, sort, blog.ListFilter{
		Author: author,
		Limit:  agentPageSize,
		Offset: (cursor - 1) * agentPageSize,
	}, state.Map(map[string]state.Value{
		"pagination": state.Map(map[string]state.Value{"cursor": state.Int(cursor)}),
		"filters":    state.Map(map[string]state.Value{"author": state.String(author)}),
		"sort":       state.String(sort),
	}))
}

// AgentSearchPosts handles GET /api/agent/search.
func (h *Handler) AgentSearchPosts(w http.ResponseWriter, r *http.Request) {
	ac := agentFromContext(r.Context())
	q := r.URL.Query()

	term := q.Get("q")
	if term == "" {
		Error(w, http.StatusBadRequest, "q is required")
		return
	}
	cursor := 1
	if v, err := strconv.Atoi(q.Get("cursor")); err == nil && v > 0 {
		cursor = v
	}
	sort := sortParam(q.Get("sort"))

	filters := state.Map(map[string]state.Value{
		"op":     state.String("search_posts"),
		"cursor": state.Int(cursor),
		"search": state.String(term),
	})

	h.serveQuery(w, r, ac, "search_posts", filters, sort, blog.ListFilter{
		Search: term,
		Limit:  agentPageSize,
		Offset: (cursor - 1) * agentPageSize,
	}, state.Map(map[string]state.Value{
		"pagination": state.Map(map[string]state.Value{"cursor": state.Int(cursor)}),
		"filters":    state.Map(map[string]state.Value{"search": state.String(term)}),
		"sort":       state.String(sort),
	}))
}

// serveQuery answers a read query from the cache when a live entry exists,
// otherwise hits the content store, caches the payload, and records the
// action on the session. Cache hits deliberately skip the session write so
// they never refresh its TTL.
func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request, ac *agentContext, action string, filters state.Value, sort string, filter blog.ListFilter, delta state.Value) {
	store := h.sessions.Store()

	if ac.Session != nil {
		key, ok, err := store.HasValidCache(r.Context(), filters, sort)
		if err == nil && ok {
			if payload, err := store.GetCachedQueryResults(r.Context(), key); err == nil {
				observability.RecordCacheLookup("hit")
				w.Header().Set("X-Cache", "hit")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write(payload)
				return
			}
		}
		observability.RecordCacheLookup("miss")
	}

	posts, total, err := h.posts.ListPosts(r.Context(), filter, sort)
	if err != nil {
		h.log.Error("agent query failed", "action", action, "error", err)
		Error(w, http.StatusInternalServerError, "query failed")
		return
	}
	if posts == nil {
		posts = []*blog.Post{}
	}

	payload, err := json.Marshal(map[string]any{"posts": posts, "total": total})
	if err != nil {
		Error(w, http.StatusInternalServerError, "encode failed")
		return
	}

	if ac.Session != nil {
		if _, err := store.UpdateStateWithDelta(r.Context(), ac.Session.SessionID, delta, state.ActionInfo{
			Action:  action,
			Input:   filters,
			Success: true,
		}); err != nil {
			h.log.Error("session update failed", "session_id", ac.Session.SessionID, "error", err)
		}
		if _, err := store.CacheQueryResults(r.Context(), ac.Session.SessionID, filters, sort, payload); err != nil {
			h.log.Error("cache write failed", "session_id", ac.Session.SessionID, "error", err)
		}
	}

	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// AgentGetPost handles GET /api/agent/posts/{id}.
func (h *Handler) AgentGetPost(w http.ResponseWriter, r *http.Request) {
	ac := agentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	post, err := h.posts.GetPost(r.Context(), id)
	if err != nil {
		h.recordAgentAction(r, ac, "get_post", state.Map(nil), false, "post not found")
		h.writeStoreError(w, err, "failed to load post")
		return
	}
	comments, err := h.posts.ListComments(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to load comments")
		return
	}

	h.recordAgentAction(r, ac, "get_post",
		state.Map(map[string]state.Value{"route": state.String("post/" + id)}), true, "")

	JSON(w, http.StatusOK, map[string]any{"post": post, "comments": comments})
}

// AgentCreatePost handles POST /api/agent/posts. Rejected content counts
// as a reputation violation.
func (h *Handler) AgentCreatePost(w http.ResponseWriter, r *http.Request) {
	ac := agentFromContext(r.Context())

	var req agentPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "title and content are required")
		return
	}

	post, err := h.posts.CreatePost(r.Context(), req.Title, req.Content, ac.AgentName, true)
	if err != nil {
		if errors.Is(err, blog.ErrUnsafeContent) {
			h.penalize(ac, "create_post")
			h.recordAgentAction(r, ac, "create_post", state.Map(nil), false, "content rejected")
			JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":            "content rejected",
				"reputation_score": ac.Rep.Score(),
				"reputation_tier":  ac.Rep.CurrentTier(),
			})
			return
		}
		h.writeStoreError(w, err, "failed to create post")
		return
	}

	h.recordAgentAction(r, ac, "create_post",
		state.Map(map[string]state.Value{"route": state.String("post/" + post.ID)}), true, "")

	JSON(w, http.StatusCreated, post)
}

// AgentCreateComment handles POST /api/agent/posts/{id}/comments.
func (h *Handler) AgentCreateComment(w http.ResponseWriter, r *http.Request) {
	ac := agentFromContext(r.Context())
	postID := chi.URLParam(r, "id")

	var req agentCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	comment, err := h.posts.CreateComment(r.Context(), postID, ac.AgentName, req.Content, true)
	if err != nil {
		if errors.Is(err, blog.ErrUnsafeContent) {
			h.penalize(ac, "create_comment")
			h.recordAgentAction(r, ac, "create_comment", state.Map(nil), false, "content rejected")
			JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":            "content rejected",
				"reputation_score": ac.Rep.Score(),
				"reputation_tier":  ac.Rep.CurrentTier(),
			})
			return
		}
		h.writeStoreError(w, err, "failed to create comment")
		return
	}

	h.recordAgentAction(r, ac, "create_comment", state.Map(nil), true, "")

	JSON(w, http.StatusCreated, comment)
}

func (h *Handler) penalize(ac *agentContext, operation string) {
	ac.Rep.RecordViolation(reputation.SeverityMedium)
	observability.RecordViolation(string(reputation.SeverityMedium))
	h.log.Warn("content violation recorded",
		"agent_id", ac.AgentID,
		"operation", operation,
		"score", ac.Rep.Score(),
		"tier", ac.Rep.CurrentTier())
}

func (h *Handler) recordAgentAction(r *http.Request, ac *agentContext, action string, delta state.Value, success bool, observation string) {
	if ac.Session == nil {
		return
	}
	_, err := h.sessions.Store().UpdateStateWithDelta(r.Context(), ac.Session.SessionID, delta, state.ActionInfo{
		Action:      action,
		Success:     success,
		Observation: observation,
	})
	if err != nil {
		h.log.Error("session update failed", "session_id", ac.Session.SessionID, "error", err)
	}
}

// withSession resolves the caller's active session for the session
// endpoints; no rate limiting applies to them.
func (h *Handler) withSession(next func(http.ResponseWriter, *http.Request, *state.SessionState)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(headerAgentID)
		if agentID == "" {
			Error(w, http.StatusUnauthorized, "missing agent identity")
			return
		}
		sess, err := h.sessions.Store().FindSessionForAgent(r.Context(), agentID)
		if err != nil {
			if errors.Is(err, state.ErrSessionNotFound) {
				Error(w, http.StatusNotFound, "no active session")
				return
			}
			h.log.Error("session lookup failed", "agent_id", agentID, "error", err)
			Error(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		next(w, r, sess)
	}
}

// AgentSessionState handles GET /api/agent/session.
func (h *Handler) AgentSessionState(w http.ResponseWriter, r *http.Request, sess *state.SessionState) {
	start := time.Now()
	JSON(w, http.StatusOK, sess)
	observability.RecordSessionOperation("get_state", "ok", time.Since(start))
}

// AgentSessionDiff handles GET /api/agent/session/diff.
func (h *Handler) AgentSessionDiff(w http.ResponseWriter, r *http.Request, sess *state.SessionState) {
	start := time.Now()
	diff, err := h.sessions.Store().GetStateDiff(r.Context(), sess.SessionID)
	if err != nil {
		observability.RecordSessionOperation("get_diff", "error", time.Since(start))
		h.log.Error("diff lookup failed", "session_id", sess.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "diff lookup failed")
		return
	}
	observability.RecordSessionOperation("get_diff", "ok", time.Since(start))
	JSON(w, http.StatusOK, diff)
}

// AgentSessionHistory handles GET /api/agent/session/history.
func (h *Handler) AgentSessionHistory(w http.ResponseWriter, r *http.Request, sess *state.SessionState) {
	q := r.URL.Query()
	limit := 20
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= state.MaxHistory {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}

	trajectory, err := h.sessions.Store().GetActionHistory(r.Context(), sess.SessionID, limit, offset)
	if err != nil {
		h.log.Error("history lookup failed", "session_id", sess.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	JSON(w, http.StatusOK, trajectory)
}

// AgentSessionTouch handles POST /api/agent/session/touch.
func (h *Handler) AgentSessionTouch(w http.ResponseWriter, r *http.Request, sess *state.SessionState) {
	start := time.Now()
	ok, err := h.sessions.Touch(r.Context(), sess.SessionID)
	if err != nil {
		observability.RecordSessionOperation("touch", "error", time.Since(start))
		h.log.Error("touch failed", "session_id", sess.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "touch failed")
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	observability.RecordSessionOperation("touch", "ok", time.Since(start))
	JSON(w, http.StatusOK, map[string]any{"touched": true, "session_id": sess.SessionID})
}

// AgentSessionEnd handles DELETE /api/agent/session: end the session and
// hand the final snapshot to the archive sink.
func (h *Handler) AgentSessionEnd(w http.ResponseWriter, r *http.Request, sess *state.SessionState) {
	start := time.Now()
	final, err := h.sessions.End(r.Context(), sess.SessionID)
	if err != nil {
		observability.RecordSessionOperation("end", "error", time.Since(start))
		h.log.Error("end session failed", "session_id", sess.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "end session failed")
		return
	}
	observability.RecordSessionOperation("end", "ok", time.Since(start))
	if final == nil {
		JSON(w, http.StatusOK, map[string]any{"ended": false})
		return
	}
	observability.SessionEnded()
	JSON(w, http.StatusOK, map[string]any{
		"ended":         true,
		"session_id":    final.SessionID,
		"total_actions": final.Stats.TotalActions,
	})
}

func sortParam(s string) string {
	switch s {
	case blog.SortNewest, blog.SortOldest, blog.SortTitle:
		return s
	default:
		return blog.SortNewest
	}
}
