package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one domain row: a mapping of field names to JSON values.
// Every stored record has an "id" and a "synced" field (0 pending, 1 synced).
type Record map[string]any

// ID returns the record id, or "" when absent.
func (r Record) ID() string {
	return idString(r["id"])
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Synced reports whether the record is flagged as confirmed synced.
func (r Record) Synced() bool {
	switch v := r["synced"].(type) {
	case float64:
		return v == 1
	case int:
		return v == 1
	case int64:
		return v == 1
	case bool:
		return v
	}
	return false
}

// idString normalizes an id value decoded from JSON.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// ownerColumn extracts user_id for the indexed column.
func ownerColumn(r Record) sql.NullString {
	s, ok := r["user_id"].(string)
	if !ok || s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Put writes a local record and enqueues the matching create or update in the
// same transaction. A missing id is generated. The stored record is marked
// pending (synced = 0) and returned along with the enqueued action.
func (db *DB) Put(ctx context.Context, table string, rec Record) (Record, Action, error) {
	if table == "" {
		return nil, "", fmt.Errorf("table is required")
	}

	stored := rec.Clone()
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	stored["synced"] = 0

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal record: %w", err)
	}

	var action Action
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM records WHERE tbl = ? AND id = ?`, table, stored.ID()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check record %s/%s: %w", table, stored.ID(), err)
		}

		action = ActionCreate
		if exists > 0 {
			action = ActionUpdate
		}

		if err := db.upsertRecord(ctx, tx, table, stored, data, false); err != nil {
			return err
		}

		_, err = db.enqueue(ctx, tx, table, action, json.RawMessage(data))
		return err
	})
	if err != nil {
		return nil, "", err
	}

	return stored, action, nil
}

// Delete removes a local record and enqueues a delete for it.
// Returns ErrNotFound if the record doesn't exist.
func (db *DB) Delete(ctx context.Context, table, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`, table, id)
		if err != nil {
			return fmt.Errorf("failed to delete record %s/%s: %w", table, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s/%s: %w", table, id, ErrNotFound)
		}

		payload, err := json.Marshal(map[string]string{"id": id})
		if err != nil {
			return fmt.Errorf("failed to marshal delete payload: %w", err)
		}
		_, err = db.enqueue(ctx, tx, table, ActionDelete, json.RawMessage(payload))
		return err
	})
}

// ApplyPulled bulk-upserts rows fetched from the remote store in a single
// transaction. Every row is forced to synced = 1 and nothing is enqueued.
// Returns the number of rows written.
func (db *DB) ApplyPulled(ctx context.Context, table string, rows []Record) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	written := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if row.ID() == "" {
				return fmt.Errorf("pulled %s row without id", table)
			}

			stored := row.Clone()
			stored["synced"] = 1

			data, err := json.Marshal(stored)
			if err != nil {
				return fmt.Errorf("failed to marshal %s/%s: %w", table, row.ID(), err)
			}

			if err := db.upsertRecord(ctx, tx, table, stored, data, true); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

// upsertRecord writes one record row.
func (db *DB) upsertRecord(ctx context.Context, ex execer, table string, rec Record, data []byte, synced bool) error {
	flag := 0
	if synced {
		flag = 1
	}

	query := `
	INSERT INTO records (tbl, id, user_id, synced, data, modified_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, id) DO UPDATE SET
		user_id = excluded.user_id,
		synced = excluded.synced,
		data = excluded.data,
		modified_at = excluded.modified_at
	`

	_, err := ex.ExecContext(ctx, query,
		table,
		rec.ID(),
		ownerColumn(rec),
		flag,
		string(data),
		db.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", table, rec.ID(), err)
	}
	return nil
}

// MarkSynced flags a single record as confirmed synced without enqueueing.
// Returns ErrNotFound if the record doesn't exist.
func (db *DB) MarkSynced(ctx context.Context, table, id string) error {
	query := `
	UPDATE records
	SET synced = 1, data = json_set(data, '$.synced', 1)
	WHERE tbl = ? AND id = ?
	`

	res, err := db.conn.ExecContext(ctx, query, table, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s/%s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Get retrieves a single record by id.
func (db *DB) Get(ctx context.Context, table, id string) (Record, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT data FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s/%s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", table, id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// List returns all records of a table ordered by id.
func (db *DB) List(ctx context.Context, table string) ([]Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT data FROM records WHERE tbl = ? ORDER BY id ASC`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindBy returns the records of a table whose field equals value.
func (db *DB) FindBy(ctx context.Context, table, field string, value any) ([]Record, error) {
	query := `
	SELECT data FROM records
	WHERE tbl = ? AND json_extract(data, '$.' || ?) = ?
	ORDER BY id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, table, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", table, field, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UnsyncedRecords returns the records of a table flagged synced = 0.
func (db *DB) UnsyncedRecords(ctx context.Context, table string) ([]Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT data FROM records WHERE tbl = ? AND synced = 0 ORDER BY modified_at ASC, id ASC`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecords returns the number of records in a table.
func (db *DB) CountRecords(ctx context.Context, table string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE tbl = ?`, table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// scanRecords decodes the data column of each row.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}
