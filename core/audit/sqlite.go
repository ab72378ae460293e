package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// SQLiteStore persists the action log in a SQLite database. The unique index
// on (event_ref, unit_id, action_type, attempt) enforces the idempotence key
// at the storage layer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS control_actions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        event_ref TEXT NOT NULL DEFAULT '',
        unit_id TEXT NOT NULL,
        action_type TEXT NOT NULL,
        attempt INTEGER NOT NULL,
        issued_ts INTEGER NOT NULL,
        success INTEGER NOT NULL DEFAULT 0,
        acked_ts INTEGER,
        record TEXT NOT NULL
    );
    CREATE UNIQUE INDEX IF NOT EXISTS control_actions_key
        ON control_actions(event_ref, unit_id, action_type, attempt);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the action to the database.
func (s *SQLiteStore) Append(ctx context.Context, a model.ControlAction) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO control_actions (event_ref, unit_id, action_type, attempt, issued_ts, success, record)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.EventRef, a.UnitID, a.Type.String(), a.Attempt, a.IssuedAt.UnixMilli(), boolInt(a.Success), string(b))
	return err
}

// AttachOutcome updates the stored row with the acknowledgement result.
func (s *SQLiteStore) AttachOutcome(ctx context.Context, key model.ActionKey, attempt int, success bool, response json.RawMessage, ackedAt time.Time) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM control_actions WHERE event_ref = ? AND unit_id = ? AND action_type = ? AND attempt = ?`,
		key.EventRef, key.UnitID, key.ActionType.String(), attempt)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("audit: no action %s/%s/%s attempt %d", key.EventRef, key.UnitID, key.ActionType, attempt)
		}
		return err
	}
	var a model.ControlAction
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return fmt.Errorf("unmarshal action: %w", err)
	}
	a.Success = success
	a.Response = response
	t := ackedAt
	a.AcknowledgedAt = &t
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE control_actions SET success = ?, acked_ts = ?, record = ?
         WHERE event_ref = ? AND unit_id = ? AND action_type = ? AND attempt = ?`,
		boolInt(success), ackedAt.UnixMilli(), string(b),
		key.EventRef, key.UnitID, key.ActionType.String(), attempt)
	return err
}

// Query returns actions matching q, ordered by issue time then attempt.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]model.ControlAction, error) {
	var args []any
	query := `SELECT record FROM control_actions WHERE 1=1`
	if q.EventRef != "" {
		query += ` AND event_ref = ?`
		args = append(args, q.EventRef)
	}
	if q.UnitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, q.UnitID)
	}
	if !q.Start.IsZero() {
		query += ` AND issued_ts >= ?`
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		query += ` AND issued_ts <= ?`
		args = append(args, q.End.UnixMilli())
	}
	query += ` ORDER BY issued_ts, attempt`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ControlAction
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a model.ControlAction
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
