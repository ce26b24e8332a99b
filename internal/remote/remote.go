// Package remote defines the row-oriented remote store the sync engine
// reconciles against, with three implementations:
//
//   - PostgREST: the Supabase-shaped HTTP API (rest/v1 + auth/v1)
//   - Postgres: a direct database connection through GORM
//   - Memory: an in-process store with fault injection, used by tests and
//     the "memory" remote kind for local experiments
//
// Every operation returns a *Error on failure so callers can branch on the
// failure class (network, server, request, auth) without knowing the backend.
package remote

import (
	"context"
	"fmt"
	"time"
)

// Row is one remote record as a JSON-compatible map.
type Row = map[string]any

// Session is the authenticated identity for one sync cycle.
type Session struct {
	UserID string
}

// Query selects one page of rows changed after a watermark.
// Rows are ordered by (ChangeField ASC, id ASC).
type Query struct {
	ChangeField string
	After       time.Time
	Offset      int
	Limit       int
}

// Store is the remote side of synchronization.
type Store interface {
	// Session returns the current identity, or nil when not authenticated.
	Session(ctx context.Context) (*Session, error)

	// Insert creates a row. A row whose id already exists is overwritten, so
	// a create replayed after a lost acknowledgement is harmless.
	Insert(ctx context.Context, table string, row Row) error

	// Update modifies the row with the given id.
	Update(ctx context.Context, table, id string, row Row) error

	// Delete removes the row with the given id.
	Delete(ctx context.Context, table, id string) error

	// Select returns one page of rows matching q.
	Select(ctx context.Context, table string, q Query) ([]Row, error)
}

// Pinger is implemented by stores that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// timestampLayouts are the formats change timestamps arrive in from
// PostgREST, Postgres text output, and local JSON.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp interprets a change-timestamp value. Values without a zone
// are taken as UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), true
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.UTC(), true
			}
		}
	case float64:
		// Unix milliseconds
		return time.UnixMilli(int64(ts)).UTC(), true
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way filters and cursors expect it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// rowID extracts the id of a row as a string.
func rowID(row Row) string {
	switch id := row["id"].(type) {
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
