package bililive

import (
	"context"
	"fmt"
	"time"

	"database/sql"

	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/infrastructure/database"
)

var subLiveTable = database.TableDefinition{
	Name: "bilibili_sublive",
	CreateSQL: `CREATE TABLE bilibili_sublive (
		gid TEXT NOT NULL,
		uid TEXT NOT NULL,
		rid TEXT NOT NULL,
		status BOOLEAN NOT NULL DEFAULT FALSE,
		last_update_time TIMESTAMP,
		PRIMARY KEY (gid, uid)
	)`,
}

// Subscription ties one group to one streamer's live room.
type Subscription struct {
	GroupID   string
	UID       string
	RoomID    string
	Live      bool
	UpdatedAt *time.Time
}

// Repository stores live subscriptions through the shared schema store.
type Repository struct {
	db *database.Manager
}

func NewRepository(db *database.Manager) *Repository {
	db.RegisterTable(subLiveTable)
	return &Repository{db: db}
}

func (r *Repository) Add(ctx context.Context, sub Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bilibili_sublive (gid, uid, rid, status, last_update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(gid, uid) DO UPDATE SET
			rid = excluded.rid,
			status = excluded.status,
			last_update_time = excluded.last_update_time`,
		sub.GroupID, sub.UID, sub.RoomID, sub.Live, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add subscription: %w", err)
	}
	return nil
}

func (r *Repository) Remove(ctx context.Context, groupID, uid string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bilibili_sublive WHERE gid = ? AND uid = ?`, groupID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) ListByGroup(ctx context.Context, groupID string) ([]Subscription, error) {
	return r.list(ctx,
		`SELECT gid, uid, rid, status, last_update_time FROM bilibili_sublive WHERE gid = ? ORDER BY uid`,
		groupID,
	)
}

func (r *Repository) ListByRoom(ctx context.Context, roomID string) ([]Subscription, error) {
	return r.list(ctx,
		`SELECT gid, uid, rid, status, last_update_time FROM bilibili_sublive WHERE rid = ?`,
		roomID,
	)
}

func (r *Repository) All(ctx context.Context) ([]Subscription, error) {
	return r.list(ctx, `SELECT gid, uid, rid, status, last_update_time FROM bilibili_sublive`)
}

// SetStatus records the last seen live state for every subscription of a room.
func (r *Repository) SetStatus(ctx context.Context, roomID string, live bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bilibili_sublive SET status = ?, last_update_time = ? WHERE rid = ?`,
		live, time.Now(), roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var updatedAt sql.NullTime
		if err := rows.Scan(&sub.GroupID, &sub.UID, &sub.RoomID, &sub.Live, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		if updatedAt.Valid {
			t := updatedAt.Time
			sub.UpdatedAt = &t
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
