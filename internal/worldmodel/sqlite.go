package worldmodel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roadmapd/internal/storage"
)

// SQLiteStore keeps world models in the world_models table. Updates run
// in a single immediate transaction.
type SQLiteStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened database.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) Get(ctx context.Context, orgID int64) (*Record, error) {
	return getRecord(ctx, s.db, orgID)
}

func getRecord(ctx context.Context, q rowQuerier, orgID int64) (*Record, error) {
	var data, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		"SELECT data, created_at, updated_at FROM world_models WHERE org_id = ?", orgID,
	).Scan(&data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying world model: %w", err)
	}

	profile, err := DecodeProfile([]byte(data))
	if err != nil {
		return nil, err
	}
	rec := &Record{OrgID: orgID, Profile: profile}
	if rec.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, orgID int64, fn UpdateFunc) (*Record, bool, error) {
	var (
		rec     *Record
		created bool
	)
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, orgID)
		found := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		var persisted *BusinessProfile
		if found {
			persisted = existing.Profile
		}
		next, err := fn(persisted, found)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding world model: %w", err)
		}

		now := s.now()
		createdAt := now
		if found {
			createdAt = existing.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO world_models (org_id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(org_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			orgID, string(data), storage.FormatTime(createdAt), storage.FormatTime(now))
		if err != nil {
			return fmt.Errorf("upserting world model: %w", err)
		}

		// Return what a later Get would decode.
		stored, err := DecodeProfile(data)
		if err != nil {
			return err
		}
		rec = &Record{OrgID: orgID, Profile: stored, CreatedAt: createdAt, UpdatedAt: now}
		created = !found
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}
