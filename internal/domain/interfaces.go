package domain

import (
	"context"
	"time"
)

// CDKeyRepository - cdkey persistence.
type CDKeyRepository interface {
	// Create inserts a fresh key. The primary key enforces code uniqueness;
	// a collision fails the insert and the caller may retry with a new code.
	Create(ctx context.Context, key *CDKey) error

	// Get returns the key, or nil without error when absent.
	Get(ctx context.Context, code string) (*CDKey, error)

	// List returns every key, newest first.
	List(ctx context.Context) ([]CDKey, error)

	// Delete removes the key, ErrNotFound when absent.
	Delete(ctx context.Context, code string) error

	// Redeem marks the key used by groupID and writes the group's new expiry
	// in one transaction. The used flag is re-checked inside the transaction;
	// a key redeemed in between fails with ErrCodeAlreadyUsed.
	Redeem(ctx context.Context, code, groupID string, days int, newExpires time.Time) error
}

// GroupRepository - group authorization and plugin-state persistence.
type GroupRepository interface {
	// Get returns the group record, or nil without error when absent.
	Get(ctx context.Context, groupID string) (*GroupAuth, error)

	// EnsureExists lazily creates an empty row for a newly observed group.
	EnsureExists(ctx context.Context, groupID string) error

	// Plugins returns the group's plugin-state map; empty map when unset.
	Plugins(ctx context.Context, groupID string) (map[string]bool, error)

	// SetPlugins replaces the group's whole plugin-state map. Concurrent
	// callers race whole-map; the later write wins.
	SetPlugins(ctx context.Context, groupID string, plugins map[string]bool) error

	// Expiring returns groups whose license lapses inside (from, from+window],
	// soonest first.
	Expiring(ctx context.Context, from time.Time, window time.Duration) ([]GroupAuth, error)
}

// NotificationService - outbound announcements into a group chat.
type NotificationService interface {
	NotifyGroup(groupID string, message string) error
}
