package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
)

// SQLiteStore keeps memory in the semantic_entities and episodes tables.
type SQLiteStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened database.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLiteStore) Semantic(ctx context.Context, orgID int64) ([]extraction.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM semantic_entities WHERE org_id = ? ORDER BY rowid", orgID)
	if err != nil {
		return nil, fmt.Errorf("querying semantic memory: %w", err)
	}
	defer rows.Close()

	var out []extraction.Entity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning semantic memory: %w", err)
		}
		var e extraction.Entity
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decoding semantic entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddSemantic(ctx context.Context, orgID int64, runID string, entities []extraction.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	now := storage.FormatTime(s.now())
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO semantic_entities (org_id, entity_type, value_key, data, run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(org_id, entity_type, value_key) DO UPDATE SET
				data = excluded.data, run_id = excluded.run_id, updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("preparing semantic upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			if err := e.Validate(); err != nil {
				return err
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding semantic entity: %w", err)
			}
			key := e.Key()
			if _, err := stmt.ExecContext(ctx, orgID, key.Type, key.Value, string(data), runID, now); err != nil {
				return fmt.Errorf("upserting semantic entity: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Episodes(ctx context.Context, orgID int64) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM episodes WHERE org_id = ? ORDER BY id", orgID)
	if err != nil {
		return nil, fmt.Errorf("querying episodes: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decoding episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEpisode(ctx context.Context, orgID int64, runID string, e events.Event) error {
	return appendEpisode(ctx, s.db, orgID, runID, e, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendEpisode(ctx context.Context, db execer, orgID int64, runID string, e events.Event, now time.Time) error {
	if runID != "" && e.Get("run_id") == nil {
		e = e.With("run_id", runID)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding episode: %w", err)
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO episodes (org_id, run_id, event_type, data, created_at) VALUES (?, ?, ?, ?, ?)",
		orgID, runID, e.Type, string(data), storage.FormatTime(now))
	if err != nil {
		return fmt.Errorf("appending episode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveEntity(ctx context.Context, orgID int64, entityType string, value extraction.Value) error {
	key := extraction.KeyOf(entityType, value)
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM semantic_entities WHERE org_id = ? AND entity_type = ? AND value_key = ?",
			orgID, key.Type, key.Value); err != nil {
			return fmt.Errorf("deleting semantic entity: %w", err)
		}
		return appendEpisode(ctx, tx, orgID, "", removedEvent(entityType, value), s.now())
	})
}
