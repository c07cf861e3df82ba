package blog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a post or comment doesn't exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed content repository.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the content database.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		author TEXT NOT NULL,
		by_agent INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author);
	CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		by_agent INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePost inserts a new post and returns it with id and timestamps set.
func (s *Store) CreatePost(ctx context.Context, title, content, author string, byAgent bool) (*Post, error) {
	if err := ClassifyContent(title); err != nil {
		return nil, err
	}
	if err := ClassifyContent(content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &Post{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   content,
		Author:    author,
		ByAgent:   byAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, content, author, by_agent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, p.Author, boolToInt(p.ByAgent), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return p, nil
}

// GetPost retrieves a post by id.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, author, by_agent, created_at, updated_at
		 FROM posts WHERE id = ?`, id)
	return scanPost(row)
}

// UpdatePost rewrites a post's title and content.
func (s *Store) UpdatePost(ctx context.Context, id, title, content string) (*Post, error) {
	if err := ClassifyContent(title); err != nil {
		return nil, err
	}
	if err := ClassifyContent(content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
		title, content, now.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetPost(ctx, id)
}

// DeletePost removes a post and its comments.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	// SQLite only enforces cascades with foreign keys on; delete directly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE post_id = ?`, id); err != nil {
		return fmt.Errorf("delete post comments: %w", err)
	}
	return nil
}

// ListPosts returns posts matching the filter in the given sort order,
// plus the unpaginated total.
func (s *Store) ListPosts(ctx context.Context, filter ListFilter, sort string) ([]*Post, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Author != "" {
		where += " AND author = ?"
		args = append(args, filter.Author)
	}
	if filter.Search != "" {
		where += " AND (title LIKE ? OR content LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	order := " ORDER BY created_at DESC"
	switch sort {
	case SortOldest:
		order = " ORDER BY created_at ASC"
	case SortTitle:
		order = " ORDER BY title COLLATE NOCASE ASC"
	}

	query := `SELECT id, title, content, author, by_agent, created_at, updated_at FROM posts` + where + order
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

// CreateComment inserts a comment on an existing post.
func (s *Store) CreateComment(ctx context.Context, postID, author, content string, byAgent bool) (*Comment, error) {
	if err := ClassifyContent(content); err != nil {
		return nil, err
	}

	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		Author:    author,
		Content:   content,
		ByAgent:   byAgent,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author, content, by_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.Author, c.Content, boolToInt(c.ByAgent), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// ListComments returns a post's comments oldest first.
func (s *Store) ListComments(ctx context.Context, postID string) ([]*Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, author, content, by_agent, created_at
		 FROM comments WHERE post_id = ? ORDER BY created_at ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		var c Comment
		var byAgent int
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.PostID, &c.Author, &c.Content, &byAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.ByAgent = byAgent != 0
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var byAgent int
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Author, &byAgent, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}

	p.ByAgent = byAgent != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
