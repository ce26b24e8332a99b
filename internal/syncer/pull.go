package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/retry"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/store"
)

// errApplyFailed marks a local write failure while applying pulled rows.
var errApplyFailed = errors.New("failed to apply pulled rows")

// PullReport summarizes one pull pass.
type PullReport struct {
	Rows           int            `json:"rows"`
	Tables         map[string]int `json:"tables,omitempty"`
	FailedTables   []string       `json:"failed_tables,omitempty"`
	Cursor         time.Time      `json:"cursor"`
	CursorAdvanced bool           `json:"cursor_advanced,omitempty"`
}

// Pull fetches rows changed since the cursor for every mapped table and
// applies them locally without enqueueing. Private tables are skipped
// without a session. A table whose fetch fails permanently is abandoned
// for this pass. A network failure or a local write failure aborts the
// whole pass without moving the cursor.
//
// At the end of a complete pass the cursor advances to the latest change
// timestamp seen, or to the current time when nothing changed. It never
// moves backward.
func (s *Service) Pull(ctx context.Context, session *remote.Session) (PullReport, error) {
	report := PullReport{Tables: make(map[string]int)}

	cursor, err := s.Cursor(ctx)
	if err != nil {
		return report, err
	}
	report.Cursor = cursor

	latest := cursor
	for _, t := range s.tables {
		if !t.Shared && session == nil {
			continue
		}

		n, tableLatest, err := s.pullTable(ctx, t, cursor)
		report.Rows += n
		if n > 0 {
			report.Tables[t.Local] = n
		}
		if tableLatest.After(latest) {
			latest = tableLatest
		}

		if err != nil {
			if errors.Is(err, errApplyFailed) || remote.IsNetwork(err) {
				return report, fmt.Errorf("pull %s: %w", t.Remote, err)
			}
			s.logger.Printf("WARNING: Stopped pulling %s: %v", t.Remote, err)
			report.FailedTables = append(report.FailedTables, t.Local)
		}
	}

	candidate := latest
	if report.Rows == 0 {
		candidate = s.now()
	}

	report.Cursor, report.CursorAdvanced, err = s.advanceCursor(ctx, candidate)
	if err != nil {
		return report, err
	}

	if report.Rows > 0 {
		s.logger.Printf("Pulled %d rows, cursor at %s", report.Rows, remote.FormatTimestamp(report.Cursor))
	}
	return report, nil
}

// pullTable pages through one table. It returns the rows applied and the
// latest change timestamp among them, even when a later page fails.
func (s *Service) pullTable(ctx context.Context, t Table, cursor time.Time) (int, time.Time, error) {
	var (
		applied int
		latest  time.Time
	)

	for page := 0; ; page++ {
		q := remote.Query{
			ChangeField: t.ChangeField,
			After:       cursor,
			Offset:      page * t.PageSize,
			Limit:       t.PageSize,
		}

		res := retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) ([]remote.Row, error) {
			rows, err := s.remote.Select(ctx, t.Remote, q)
			if err != nil && attempt < s.retry.Attempts && s.retry.Retryable(err) {
				s.logger.Printf("Retry %d/%d for %s page %d: %v", attempt, s.retry.Attempts, t.Remote, page, err)
			}
			return rows, err
		})
		if !res.Ok() {
			return applied, latest, res.Err
		}

		rows := res.Value
		if len(rows) == 0 {
			break
		}

		pageLatest := latest
		records := make([]store.Record, len(rows))
		for i, row := range rows {
			records[i] = store.Record(row)
			if ts, ok := remote.ParseTimestamp(row[t.ChangeField]); ok && ts.After(pageLatest) {
				pageLatest = ts
			}
		}

		n, err := s.local.ApplyPulled(ctx, t.Local, records)
		if err != nil {
			return applied, latest, fmt.Errorf("%w: page %d of %s: %w", errApplyFailed, page, t.Local, err)
		}
		applied += n
		latest = pageLatest

		if len(rows) < t.PageSize {
			break
		}
	}

	return applied, latest, nil
}
