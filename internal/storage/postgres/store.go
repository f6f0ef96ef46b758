package postgres

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
)

// Options tune the connection pool.
type Options struct {
	// CAFile enables verified TLS against the given CA bundle.
	CAFile string
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.CAFile != "" {
		tlsCfg, err := tlsConfig(opts.CAFile, cfg.ConnConfig.Host)
		if err != nil {
			return nil, err
		}
		cfg.ConnConfig.TLSConfig = tlsCfg
		// fallbacks would otherwise retry without the verified config
		cfg.ConnConfig.Fallbacks = nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func tlsConfig(caFile, host string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read CA file: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
	}
	return &tls.Config{RootCAs: roots, ServerName: host}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// Ping verifies a connection to the database is still alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// migrate ensures the database schema is created.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchlist (
		id          BIGSERIAL PRIMARY KEY,
		url         TEXT NOT NULL,
		"interval"  INTEGER NOT NULL CHECK ("interval" > 0 AND "interval" <= 300),
		content_rx  TEXT,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		last_start  TIMESTAMPTZ,
		last_end    TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_watchlist_last_start ON watchlist (last_start) WHERE enabled;

	CREATE TABLE IF NOT EXISTS check_log (
		id             BIGSERIAL PRIMARY KEY,
		wl_id          BIGINT NOT NULL REFERENCES watchlist(id) ON DELETE CASCADE,
		started_at     TIMESTAMPTZ NOT NULL,
		ended_at       TIMESTAMPTZ NOT NULL,
		connection_ms  INTEGER NOT NULL DEFAULT -1,
		ttfb_ms        INTEGER NOT NULL DEFAULT -1,
		response_ms    INTEGER NOT NULL DEFAULT -1,
		status_code    INTEGER,
		content_match  BOOLEAN,
		error_message  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_check_log_wl_id_started_at ON check_log (wl_id, started_at DESC);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

const watchColumns = `id, url, "interval", content_rx, enabled, last_start, last_end, created_at`

func scanWatchItem(row pgx.Row) (*models.WatchItem, error) {
	var w models.WatchItem
	if err := row.Scan(&w.ID, &w.URL, &w.IntervalSeconds, &w.ContentPattern, &w.Enabled, &w.LastStart, &w.LastEnd, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// FetchDue implements the storage.CheckStore interface.
func (s *PostgresStore) FetchDue(ctx context.Context, now time.Time, window time.Duration) ([]models.DueItem, error) {
	query := `
	SELECT id, url, content_rx, last_start + make_interval(secs => "interval") AS run_at
	FROM watchlist
	WHERE enabled
	  AND (last_start IS NULL OR last_start < $1::timestamptz - make_interval(secs => "interval"))
	ORDER BY run_at ASC NULLS FIRST, id`
	rows, err := s.db.Query(ctx, query, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query due watch items: %w", err)
	}
	defer rows.Close()

	var due []models.DueItem
	for rows.Next() {
		var d models.DueItem
		if err := rows.Scan(&d.ID, &d.URL, &d.ContentPattern, &d.RunAt); err != nil {
			return nil, fmt.Errorf("failed to scan due watch item: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// RecordCheck implements the storage.CheckStore interface.
func (s *PostgresStore) RecordCheck(ctx context.Context, itemID int64, start, end time.Time, result models.CheckResult) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		insert := `
		INSERT INTO check_log (wl_id, started_at, ended_at, connection_ms, ttfb_ms, response_ms, status_code, content_match, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, insert, itemID, start, end, result.ConnectionMS, result.TTFBMS, result.ResponseMS,
			result.StatusCode, result.ContentMatch, result.ErrorMessage); err != nil {
			return fmt.Errorf("failed to insert check log entry: %w", err)
		}

		tag, err := tx.Exec(ctx, `UPDATE watchlist SET last_start = $1, last_end = $2 WHERE id = $3`, start, end, itemID)
		if err != nil {
			return fmt.Errorf("failed to update watch item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// CreateWatchItem implements the storage.WatchStore interface.
func (s *PostgresStore) CreateWatchItem(ctx context.Context, item *models.WatchItem) (*models.WatchItem, error) {
	query := `INSERT INTO watchlist (url, "interval", content_rx, enabled) VALUES ($1, $2, $3, $4) RETURNING ` + watchColumns
	created, err := scanWatchItem(s.db.QueryRow(ctx, query, item.URL, item.IntervalSeconds, item.ContentPattern, item.Enabled))
	if err != nil {
		return nil, fmt.Errorf("failed to create watch item: %w", err)
	}
	return created, nil
}

// GetWatchItem implements the storage.WatchStore interface.
func (s *PostgresStore) GetWatchItem(ctx context.Context, id int64) (*models.WatchItem, error) {
	item, err := scanWatchItem(s.db.QueryRow(ctx, `SELECT `+watchColumns+` FROM watchlist WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watch item: %w", err)
	}
	return item, nil
}

// ListWatchItems implements the storage.WatchStore interface.
func (s *PostgresStore) ListWatchItems(ctx context.Context) ([]models.WatchItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+watchColumns+` FROM watchlist ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch items: %w", err)
	}
	defer rows.Close()

	var items []models.WatchItem
	for rows.Next() {
		item, err := scanWatchItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateWatchItem implements the storage.WatchStore interface.
func (s *PostgresStore) UpdateWatchItem(ctx context.Context, id int64, upd storage.WatchItemUpdate) (*models.WatchItem, error) {
	if upd.Empty() {
		return nil, storage.ErrNothingToUpdate
	}

	var sets []string
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if upd.IntervalSeconds != nil {
		add(`"interval"`, *upd.IntervalSeconds)
	}
	switch {
	case upd.ClearPattern:
		sets = append(sets, "content_rx = NULL")
	case upd.ContentPattern != nil:
		add("content_rx", *upd.ContentPattern)
	}

	query := `UPDATE watchlist SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + watchColumns
	item, err := scanWatchItem(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update watch item: %w", err)
	}
	return item, nil
}

// DeleteWatchItem implements the storage.WatchStore interface.
func (s *PostgresStore) DeleteWatchItem(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM watchlist WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete watch item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListCheckLog implements the storage.WatchStore interface.
func (s *PostgresStore) ListCheckLog(ctx context.Context, params storage.ListCheckLogParams) ([]models.CheckLogEntry, error) {
	if params.Limit <= 0 {
		params.Limit = storage.DefaultCheckLogLimit
	}
	query := `
	SELECT id, wl_id, started_at, ended_at, connection_ms, ttfb_ms, response_ms, status_code, content_match, error_message
	FROM check_log
	WHERE wl_id = $1 AND ($2::timestamptz IS NULL OR started_at > $2)
	ORDER BY started_at DESC, id DESC
	LIMIT $3`
	rows, err := s.db.Query(ctx, query, params.WatchItemID, params.Since, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check log: %w", err)
	}
	defer rows.Close()

	var entries []models.CheckLogEntry
	for rows.Next() {
		var e models.CheckLogEntry
		if err := rows.Scan(&e.ID, &e.WatchItemID, &e.Start, &e.End, &e.ConnectionMS, &e.TTFBMS, &e.ResponseMS,
			&e.StatusCode, &e.ContentMatch, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan check log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
