package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of local mutation recorded in the outbound queue.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	}
	return "", fmt.Errorf("invalid action %q (want create, update or delete)", s)
}

// QueueEntry is one pending outbound mutation.
type QueueEntry struct {
	Seq       int64
	Table     string
	Action    Action
	Payload   any // decoded JSON: an object snapshot, or the bare id for deletes
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// RecordID returns the id the entry targets. The payload may be the id itself
// or an object carrying an "id" field.
func (e QueueEntry) RecordID() string {
	switch p := e.Payload.(type) {
	case map[string]any:
		return idString(p["id"])
	case string:
		return p
	case float64:
		return idString(p)
	}
	return ""
}

// PayloadRecord returns the payload as a record, or nil if it is not an object.
func (e QueueEntry) PayloadRecord() Record {
	if m, ok := e.Payload.(map[string]any); ok {
		return Record(m).Clone()
	}
	return nil
}

// QueueSummary counts queue entries by state.
type QueueSummary struct {
	Total   int `json:"total" yaml:"total"`
	Pending int `json:"pending" yaml:"pending"`
	Failed  int `json:"failed" yaml:"failed"`
}

// Enqueue appends a mutation to the outbound queue with the current time and
// returns its sequence number. No dedup is applied.
func (db *DB) Enqueue(ctx context.Context, table string, action Action, payload any) (int64, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return 0, err
	}
	return db.enqueue(ctx, db.conn, table, action, payload)
}

func (db *DB) enqueue(ctx context.Context, ex execer, table string, action Action, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	res, err := ex.ExecContext(ctx,
		`INSERT INTO sync_queue (tbl, action, payload, created_at) VALUES (?, ?, ?, ?)`,
		table, string(action), string(data), db.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", action, table, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue sequence: %w", err)
	}
	return seq, nil
}

// QueueEntries returns all queue entries ordered by enqueue time, ties broken
// by sequence number.
func (db *DB) QueueEntries(ctx context.Context) ([]QueueEntry, error) {
	query := `
	SELECT seq, tbl, action, payload, created_at, attempts, last_error
	FROM sync_queue
	ORDER BY created_at ASC, seq ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			e         QueueEntry
			action    string
			payload   string
			createdAt int64
			lastError sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Table, &action, &payload, &createdAt, &e.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		e.Action = Action(action)
		e.CreatedAt = time.UnixMilli(createdAt)
		e.LastError = lastError.String
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload of entry %d: %w", e.Seq, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}

	return entries, nil
}

// RemoveEntry deletes a processed queue entry.
// Returns ErrNotFound if the entry doesn't exist.
func (db *DB) RemoveEntry(ctx context.Context, seq int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue entry %d: %w", seq, ErrNotFound)
	}
	return nil
}

// RecordFailure increments the attempt counter of an entry and stores the cause.
func (db *DB) RecordFailure(ctx context.Context, seq int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE seq = ?`, msg, seq)
	if err != nil {
		return fmt.Errorf("failed to record failure of entry %d: %w", seq, err)
	}
	return nil
}

// HasCreateEntry reports whether a create entry for the given record id is queued.
func (db *DB) HasCreateEntry(ctx context.Context, table, id string) (bool, error) {
	query := `
	SELECT COUNT(*) FROM sync_queue
	WHERE tbl = ? AND action = 'create'
	  AND json_type(payload) = 'object'
	  AND CAST(json_extract(payload, '$.id') AS TEXT) = ?
	`

	var count int
	if err := db.conn.QueryRowContext(ctx, query, table, id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up create entry for %s/%s: %w", table, id, err)
	}
	return count > 0, nil
}

// Summary counts queue entries. Entries with at least minAttempts failed
// attempts count as failed, the rest as pending.
func (db *DB) Summary(ctx context.Context, minAttempts int) (QueueSummary, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END), 0)
	FROM sync_queue
	`

	var s QueueSummary
	if err := db.conn.QueryRowContext(ctx, query, minAttempts).Scan(&s.Total, &s.Failed); err != nil {
		return QueueSummary{}, fmt.Errorf("failed to summarize sync queue: %w", err)
	}
	s.Pending = s.Total - s.Failed
	return s, nil
}

// ClearFailed deletes entries with at least minAttempts failed attempts and
// returns how many were removed.
func (db *DB) ClearFailed(ctx context.Context, minAttempts int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE attempts >= ?`, minAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed queue entries: %w", err)
	}
	return res.RowsAffected()
}

// ClearQueue deletes every queue entry and returns how many were removed.
func (db *DB) ClearQueue(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return res.RowsAffected()
}
