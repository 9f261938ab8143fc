// ABOUTME: User and listing directory contracts consumed by the messaging core
// ABOUTME: Defines lookup interfaces plus an in-memory implementation for tests and seeding

package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a user or listing does not exist.
var ErrNotFound = errors.New("not found")

// User is the public identity of a marketplace member.
type User struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Listing is the lightweight summary of a marketplace item.
type Listing struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	ImageURL string `json:"image_url" yaml:"image_url"`
	Slug     string `json:"slug" yaml:"slug"`
}

// Users resolves user identities.
type Users interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUsers returns the users that exist among ids, keyed by ID.
	// Missing IDs are absent from the map rather than an error.
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
}

// Listings resolves listing summaries.
type Listings interface {
	GetListing(ctx context.Context, id string) (*Listing, error)
	GetListings(ctx context.Context, ids []string) (map[string]*Listing, error)
}

// Memory is a thread-safe in-memory directory.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User
	listings map[string]*Listing
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		listings: make(map[string]*Listing),
	}
}

// PutUser adds or replaces a user.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// DeleteUser removes a user. Unknown IDs are ignored.
func (m *Memory) DeleteUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

// PutListing adds or replaces a listing.
func (m *Memory) PutListing(l Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = &l
}

// GetUser returns a copy of the user or ErrNotFound.
func (m *Memory) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetUsers returns copies of the users that exist among ids.
func (m *Memory) GetUsers(_ context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// GetListing returns a copy of the listing or ErrNotFound.
func (m *Memory) GetListing(_ context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *l
	return &out, nil
}

// GetListings returns copies of the listings that exist among ids.
func (m *Memory) GetListings(_ context.Context, ids []string) (map[string]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Listing, len(ids))
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			cp := *l
			out[id] = &cp
		}
	}
	return out, nil
}

// UserIDs returns all known user IDs in sorted order.
func (m *Memory) UserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unique returns ids with duplicates and empty strings removed, preserving order.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
