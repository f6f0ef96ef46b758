package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
)

// SQLiteStore implements the storage.Storer interface for SQLite.
//
// Timestamps are stored as unix nanoseconds so the due query can do its
// arithmetic in SQL.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dataSourceName)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// a single writer connection; ":memory:" databases are per connection anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS watchlist (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT NOT NULL,
	interval    INTEGER NOT NULL CHECK (interval > 0 AND interval <= 300),
	content_rx  TEXT,
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_start  INTEGER,
	last_end    INTEGER,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchlist_last_start ON watchlist (last_start);

CREATE TABLE IF NOT EXISTS check_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	wl_id          INTEGER NOT NULL,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER NOT NULL,
	connection_ms  INTEGER NOT NULL DEFAULT -1,
	ttfb_ms        INTEGER NOT NULL DEFAULT -1,
	response_ms    INTEGER NOT NULL DEFAULT -1,
	status_code    INTEGER,
	content_match  INTEGER,
	error_message  TEXT,
	FOREIGN KEY(wl_id) REFERENCES watchlist(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_check_log_wl_id_started_at ON check_log (wl_id, started_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const watchColumns = `id, url, interval, content_rx, enabled, last_start, last_end, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWatchItem(row scanner) (*models.WatchItem, error) {
	var (
		w                  models.WatchItem
		pattern            sql.NullString
		lastStart, lastEnd sql.NullInt64
		createdAt          int64
	)
	if err := row.Scan(&w.ID, &w.URL, &w.IntervalSeconds, &pattern, &w.Enabled, &lastStart, &lastEnd, &createdAt); err != nil {
		return nil, err
	}
	if pattern.Valid {
		w.ContentPattern = &pattern.String
	}
	w.LastStart = fromNullNanos(lastStart)
	w.LastEnd = fromNullNanos(lastEnd)
	w.CreatedAt = time.Unix(0, createdAt).UTC()
	return &w, nil
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// FetchDue implements the storage.CheckStore interface.
func (s *SQLiteStore) FetchDue(ctx context.Context, now time.Time, window time.Duration) ([]models.DueItem, error) {
	query := `
SELECT id, url, content_rx, last_start + interval * 1000000000 AS run_at
FROM watchlist
WHERE enabled
  AND (last_start IS NULL OR last_start < ? - interval * 1000000000)
ORDER BY run_at ASC NULLS FIRST, id`
	rows, err := s.db.QueryContext(ctx, query, now.Add(window).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query due watch items: %w", err)
	}
	defer rows.Close()

	var due []models.DueItem
	for rows.Next() {
		var (
			d       models.DueItem
			pattern sql.NullString
			runAt   sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.URL, &pattern, &runAt); err != nil {
			return nil, fmt.Errorf("failed to scan due watch item: %w", err)
		}
		if pattern.Valid {
			d.ContentPattern = &pattern.String
		}
		d.RunAt = fromNullNanos(runAt)
		due = append(due, d)
	}
	return due, rows.Err()
}

// RecordCheck implements the storage.CheckStore interface.
func (s *SQLiteStore) RecordCheck(ctx context.Context, itemID int64, start, end time.Time, result models.CheckResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
INSERT INTO check_log (wl_id, started_at, ended_at, connection_ms, ttfb_ms, response_ms, status_code, content_match, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, itemID, start.UnixNano(), end.UnixNano(), result.ConnectionMS, result.TTFBMS,
		result.ResponseMS, result.StatusCode, result.ContentMatch, result.ErrorMessage); err != nil {
		return fmt.Errorf("failed to insert check log entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE watchlist SET last_start = ?, last_end = ? WHERE id = ?`, start.UnixNano(), end.UnixNano(), itemID)
	if err != nil {
		return fmt.Errorf("failed to update watch item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateWatchItem saves a new watch item and returns it with its assigned id.
func (s *SQLiteStore) CreateWatchItem(ctx context.Context, item *models.WatchItem) (*models.WatchItem, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO watchlist (url, interval, content_rx, enabled, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.URL, item.IntervalSeconds, item.ContentPattern, item.Enabled, createdAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert watch item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read watch item id: %w", err)
	}
	return s.GetWatchItem(ctx, id)
}

// GetWatchItem retrieves a single watch item by its id.
func (s *SQLiteStore) GetWatchItem(ctx context.Context, id int64) (*models.WatchItem, error) {
	item, err := scanWatchItem(s.db.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watchlist WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watch item by id: %w", err)
	}
	return item, nil
}

// ListWatchItems retrieves all watch items ordered by id.
func (s *SQLiteStore) ListWatchItems(ctx context.Context) ([]models.WatchItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+watchColumns+` FROM watchlist ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch items: %w", err)
	}
	defer rows.Close()

	var items []models.WatchItem
	for rows.Next() {
		item, err := scanWatchItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch item row: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateWatchItem applies the non-nil fields of upd to a watch item.
func (s *SQLiteStore) UpdateWatchItem(ctx context.Context, id int64, upd storage.WatchItemUpdate) (*models.WatchItem, error) {
	if upd.Empty() {
		return nil, storage.ErrNothingToUpdate
	}

	var (
		sets []string
		args []any
	)
	if upd.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *upd.Enabled)
	}
	if upd.IntervalSeconds != nil {
		sets = append(sets, "interval = ?")
		args = append(args, *upd.IntervalSeconds)
	}
	switch {
	case upd.ClearPattern:
		sets = append(sets, "content_rx = NULL")
	case upd.ContentPattern != nil:
		sets = append(sets, "content_rx = ?")
		args = append(args, *upd.ContentPattern)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE watchlist SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update watch item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetWatchItem(ctx, id)
}

// DeleteWatchItem removes a watch item together with its check log.
func (s *SQLiteStore) DeleteWatchItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete watch item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListCheckLog retrieves recent check log entries for a watch item, newest first.
func (s *SQLiteStore) ListCheckLog(ctx context.Context, params storage.ListCheckLogParams) ([]models.CheckLogEntry, error) {
	if params.Limit <= 0 {
		params.Limit = storage.DefaultCheckLogLimit
	}

	args := []any{params.WatchItemID}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, wl_id, started_at, ended_at, connection_ms, ttfb_ms, response_ms, status_code, content_match, error_message
FROM check_log WHERE wl_id = ?`)
	if params.Since != nil {
		args = append(args, params.Since.UnixNano())
		qb.WriteString(" AND started_at > ?")
	}
	qb.WriteString(" ORDER BY started_at DESC, id DESC LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check log: %w", err)
	}
	defer rows.Close()

	var entries []models.CheckLogEntry
	for rows.Next() {
		var (
			e            models.CheckLogEntry
			start, end   int64
			status       sql.NullInt64
			match        sql.NullBool
			errorMessage sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.WatchItemID, &start, &end, &e.ConnectionMS, &e.TTFBMS, &e.ResponseMS,
			&status, &match, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan check log row: %w", err)
		}
		e.Start = time.Unix(0, start).UTC()
		e.End = time.Unix(0, end).UTC()
		if status.Valid {
			code := int(status.Int64)
			e.StatusCode = &code
		}
		if match.Valid {
			e.ContentMatch = &match.Bool
		}
		if errorMessage.Valid {
			e.ErrorMessage = &errorMessage.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
