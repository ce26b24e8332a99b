package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres reaches the remote tables directly over a database connection.
// The identity is fixed at construction since there is no auth service
// in front of the database.
type Postgres struct {
	db     *gorm.DB
	userID string
}

// OpenPostgres connects with the given DSN. userID is the identity reported
// by Session; empty means unauthenticated.
func OpenPostgres(dsn, userID string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Postgres{db: db, userID: strings.TrimSpace(userID)}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Session implements Store.
func (s *Postgres) Session(ctx context.Context) (*Session, error) {
	if s.userID == "" {
		return nil, nil
	}
	return &Session{UserID: s.userID}, nil
}

// Insert implements Store. Conflicting ids are overwritten.
func (s *Postgres) Insert(ctx context.Context, table string, row Row) error {
	var cols []string
	for k := range row {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
	}
	if len(cols) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(cols)
	}

	err := s.db.WithContext(ctx).Table(table).Clauses(onConflict).Create(map[string]any(row)).Error
	return classifyPg("insert", table, err)
}

// Update implements Store.
func (s *Postgres) Update(ctx context.Context, table, id string, row Row) error {
	err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(map[string]any(row)).Error
	return classifyPg("update", table, err)
}

// Delete implements Store.
func (s *Postgres) Delete(ctx context.Context, table, id string) error {
	err := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE id = ?", clause.Table{Name: table}, id).Error
	return classifyPg("delete", table, err)
}

// Select implements Store.
func (s *Postgres) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	tx := s.db.WithContext(ctx).
		Table(table).
		Where(clause.Gt{Column: clause.Column{Name: q.ChangeField}, Value: q.After}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: q.ChangeField}}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset(q.Offset)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, classifyPg("select", table, err)
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

// Ping implements Pinger.
func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &Error{Kind: KindRequest, Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &Error{Kind: KindNetwork, Op: "ping", Err: err}
	}
	return nil
}

// classifyPg maps a database error onto a failure class by SQLSTATE.
func classifyPg(op, table string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{
			Kind:    sqlStateKind(pgErr.Code),
			Op:      op,
			Table:   table,
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Err:     err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindRequest, Op: op, Table: table, Err: err}
	}

	if isTransportError(err) || isBrokenConn(err) {
		return &Error{Kind: KindNetwork, Op: op, Table: table, Err: err}
	}
	return &Error{Kind: KindRequest, Op: op, Table: table, Err: err}
}

// isBrokenConn matches a connection lost mid-call or one that never got
// as far as sending the query.
func isBrokenConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) ||
		pgconn.SafeToRetry(err)
}

func sqlStateKind(code string) Kind {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return KindNetwork
	case strings.HasPrefix(code, "28"), code == "42501": // invalid authorization, insufficient privilege
		return KindAuth
	case strings.HasPrefix(code, "40"), // transaction rollback (serialization, deadlock)
		strings.HasPrefix(code, "53"), // insufficient resources
		strings.HasPrefix(code, "57"), // operator intervention
		strings.HasPrefix(code, "58"): // system error
		return KindServer
	}
	return KindRequest
}
