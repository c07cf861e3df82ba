package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/awi-labs/awiblog/internal/blog"
)

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  string `json:"author"`
}

type commentRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// ListPosts handles GET /api/posts.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	filter, sort := listParamsFrom(r)
	posts, total, err := h.posts.ListPosts(r.Context(), filter, sort)
	if err != nil {
		h.log.Error("list posts failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	if posts == nil {
		posts = []*blog.Post{}
	}
	JSON(w, http.StatusOK, map[string]any{"posts": posts, "total": total})
}

// GetPost handles GET /api/posts/{id}.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "failed to load post")
		return
	}
	JSON(w, http.StatusOK, post)
}

// CreatePost handles POST /api/posts.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" || req.Author == "" {
		Error(w, http.StatusBadRequest, "title, content, and author are required")
		return
	}

	post, err := h.posts.CreatePost(r.Context(), req.Title, req.Content, req.Author, false)
	if err != nil {
		h.writeStoreError(w, err, "failed to create post")
		return
	}
	JSON(w, http.StatusCreated, post)
}

// UpdatePost handles PUT /api/posts/{id}.
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "title and content are required")
		return
	}

	post, err := h.posts.UpdatePost(r.Context(), chi.URLParam(r, "id"), req.Title, req.Content)
	if err != nil {
		h.writeStoreError(w, err, "failed to update post")
		return
	}
	JSON(w, http.StatusOK, post)
}

// DeletePost handles DELETE /api/posts/{id}.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.posts.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err, "failed to delete post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListComments handles GET /api/posts/{id}/comments.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.posts.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, "failed to list comments")
		return
	}
	if comments == nil {
		comments = []*blog.Comment{}
	}
	JSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// CreateComment handles POST /api/posts/{id}/comments.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Author == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "author and content are required")
		return
	}

	comment, err := h.posts.CreateComment(r.Context(), chi.URLParam(r, "id"), req.Author, req.Content, false)
	if err != nil {
		h.writeStoreError(w, err, "failed to create comment")
		return
	}
	JSON(w, http.StatusCreated, comment)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, blog.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, blog.ErrUnsafeContent):
		Error(w, http.StatusUnprocessableEntity, "content rejected")
	default:
		h.log.Error(fallback, "error", err)
		Error(w, http.StatusInternalServerError, fallback)
	}
}

func listParamsFrom(r *http.Request) (blog.ListFilter, string) {
	q := r.URL.Query()

	filter := blog.ListFilter{
		Author: q.Get("author"),
		Search: q.Get("search"),
		Limit:  20,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 100 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	sort := q.Get("sort")
	switch sort {
	case blog.SortNewest, blog.SortOldest, blog.SortTitle:
	default:
		sort = blog.SortNewest
	}
	return filter, sort
}
