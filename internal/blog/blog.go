// Package blog holds the content store for posts and comments. It is thin
// glue around SQLite; the interesting behavior lives in the governance
// core, which treats this package as an external collaborator.
package blog

import (
	"time"
)

// Post is one blog post.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	ByAgent   bool      `json:"by_agent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is one comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	ByAgent   bool      `json:"by_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows a post listing.
type ListFilter struct {
	Author string
	Search string
	Limit  int
	Offset int
}

// Sort orders for post listings.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortTitle  = "title"
)
