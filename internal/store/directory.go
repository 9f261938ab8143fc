// ABOUTME: SQLite mirror of the marketplace user and listing directories
// ABOUTME: Implements directory.Users and directory.Listings with batch lookups

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/giftbox-chat/internal/directory"
)

// UpsertUser inserts or replaces a user in the local directory mirror
func (s *SQLiteStore) UpsertUser(ctx context.Context, u directory.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}

	query := `
		INSERT INTO users (user_id, name, email, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, formatTimestamp(s.now()))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// UpsertListing inserts or replaces a listing in the local directory mirror
func (s *SQLiteStore) UpsertListing(ctx context.Context, l directory.Listing) error {
	if l.ID == "" {
		return fmt.Errorf("listing id is required")
	}

	query := `
		INSERT INTO listings (listing_id, title, image_url, slug, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			title = excluded.title,
			image_url = excluded.image_url,
			slug = excluded.slug,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, l.ID, l.Title, l.ImageURL, l.Slug, formatTimestamp(s.now()))
	if err != nil {
		return fmt.Errorf("upserting listing: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns directory.ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*directory.User, error) {
	var u directory.User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, email FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// GetUsers retrieves the users that exist among ids in one query
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) (map[string]*directory.User, error) {
	ids = directory.Unique(ids)
	out := make(map[string]*directory.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT user_id, name, email FROM users WHERE user_id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u directory.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return out, nil
}

// GetListing retrieves a listing by ID.
// Returns directory.ErrNotFound if the listing doesn't exist.
func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*directory.Listing, error) {
	var l directory.Listing
	err := s.db.QueryRowContext(ctx,
		`SELECT listing_id, title, image_url, slug FROM listings WHERE listing_id = ?`, id,
	).Scan(&l.ID, &l.Title, &l.ImageURL, &l.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying listing: %w", err)
	}
	return &l, nil
}

// GetListings retrieves the listings that exist among ids in one query
func (s *SQLiteStore) GetListings(ctx context.Context, ids []string) (map[string]*directory.Listing, error) {
	ids = directory.Unique(ids)
	out := make(map[string]*directory.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT listing_id, title, image_url, slug FROM listings WHERE listing_id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l directory.Listing
		if err := rows.Scan(&l.ID, &l.Title, &l.ImageURL, &l.Slug); err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		out[l.ID] = &l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listings: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
