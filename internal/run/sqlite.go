package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
)

const runColumns = `id, org_id, status, error_code, error_message, entity_count,
	relationship_count, created_at, started_at, finished_at`

// SQLiteStore keeps runs in the runs and run_events tables.
type SQLiteStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened database.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLiteStore) Create(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrgID, string(r.Status), r.ErrorCode, r.ErrorMessage, r.EntityCount, r.RelationshipCount,
		storage.FormatTime(r.CreatedAt), storage.FormatTime(r.StartedAt), storage.FormatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, r *Run) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, error_code = ?, error_message = ?,
		entity_count = ?, relationship_count = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(r.Status), r.ErrorCode, r.ErrorMessage, r.EntityCount, r.RelationshipCount,
		storage.FormatTime(r.StartedAt), storage.FormatTime(r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                              Run
		status                         string
		createdAt, startedAt, finished string
	)
	if err := row.Scan(&r.ID, &r.OrgID, &status, &r.ErrorCode, &r.ErrorMessage, &r.EntityCount,
		&r.RelationshipCount, &createdAt, &startedAt, &finished); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	var err error
	if r.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if r.StartedAt, err = storage.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = storage.ParseTime(finished); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListByOrg(ctx context.Context, orgID int64, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE org_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, seq int64, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding run event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, seq, event_type, data, created_at) VALUES (?, ?, ?, ?, ?)",
		runID, seq, e.Type, string(data), storage.FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("appending run event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Events(ctx context.Context, runID string) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM run_events WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("querying run events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning run event: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decoding run event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
