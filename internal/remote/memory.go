package remote

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Call records one operation received by a Memory store.
type Call struct {
	Op    string
	Table string
	ID    string
	Row   Row
	Query Query
}

// Memory is an in-process Store. Failures can be scripted per operation
// with Fail, which makes it the backbone of the sync engine's tests.
type Memory struct {
	mu       sync.Mutex
	session  *Session
	tables   map[string]map[string]Row
	failures map[string][]error
	calls    []Call
	offline  bool
}

// NewMemory creates an empty store. userID "" means no session.
func NewMemory(userID string) *Memory {
	m := &Memory{
		tables:   make(map[string]map[string]Row),
		failures: make(map[string][]error),
	}
	if userID != "" {
		m.session = &Session{UserID: userID}
	}
	return m
}

// SetSession replaces the identity returned by Session.
func (m *Memory) SetSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// SetOffline makes every operation, including Ping, fail with a network error.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Fail queues errors returned by the next calls of op ("insert", "update",
// "delete", "select", "session"), one per call.
func (m *Memory) Fail(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Seed writes rows directly without recording calls.
func (m *Memory) Seed(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.put(table, row)
	}
}

// Rows returns a copy of a table ordered by id.
func (m *Memory) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tables[table]))
	for id := range m.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRow(m.tables[table][id]))
	}
	return out
}

// Calls returns the operations received so far, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the recorded calls of one operation.
func (m *Memory) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Session implements Store.
func (m *Memory) Session(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault("session", ""); err != nil {
		return nil, err
	}
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, table string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "insert", Table: table, ID: rowID(row), Row: cloneRow(row)})
	if err := m.fault("insert", table); err != nil {
		return err
	}
	m.put(table, row)
	return nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, table, id string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "update", Table: table, ID: id, Row: cloneRow(row)})
	if err := m.fault("update", table); err != nil {
		return err
	}

	existing, ok := m.tables[table][id]
	if !ok {
		return nil
	}
	for k, v := range row {
		existing[k] = v
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "delete", Table: table, ID: id})
	if err := m.fault("delete", table); err != nil {
		return err
	}
	delete(m.tables[table], id)
	return nil
}

// Select implements Store.
func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "select", Table: table, Query: q})
	if err := m.fault("select", table); err != nil {
		return nil, err
	}

	type keyed struct {
		row Row
		ts  time.Time
		id  string
	}

	var matched []keyed
	for id, row := range m.tables[table] {
		ts, ok := ParseTimestamp(row[q.ChangeField])
		if !ok || !ts.After(q.After) {
			continue
		}
		matched = append(matched, keyed{row: row, ts: ts, id: id})
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ts.Equal(matched[j].ts) {
			return matched[i].ts.Before(matched[j].ts)
		}
		return matched[i].id < matched[j].id
	})

	if q.Offset >= len(matched) {
		return []Row{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Row, len(matched))
	for i, k := range matched {
		out[i] = cloneRow(k.row)
	}
	return out, nil
}

// Ping implements Pinger.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return &Error{Kind: KindNetwork, Op: "ping", Message: "offline"}
	}
	return nil
}

// fault returns the next scripted error for op. Caller holds mu.
func (m *Memory) fault(op, table string) error {
	if m.offline {
		return &Error{Kind: KindNetwork, Op: op, Table: table, Message: "offline"}
	}
	queued := m.failures[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	m.failures[op] = queued[1:]
	return err
}

// put stores a copy of row. Caller holds mu.
func (m *Memory) put(table string, row Row) {
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]Row)
	}
	m.tables[table][rowID(row)] = cloneRow(row)
}

func cloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
