// Package postgres persists ingestion run and delivery history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/importscout/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	RunsTable       string
	DeliveriesTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool       pool
	runs       string
	deliveries string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.RunsTable, cfg.DeliveriesTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, runsTable, deliveriesTable string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runsTable == "" {
		runsTable = "ingestion_runs"
	}
	if deliveriesTable == "" {
		deliveriesTable = "deliveries"
	}
	for _, table := range []string{runsTable, deliveriesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RunStore{pool: p, runs: runsTable, deliveries: deliveriesTable}, nil
}

// EnsureSchema creates the history tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			product       TEXT NOT NULL,
			region        TEXT NOT NULL,
			lead_limit    INTEGER NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			status        TEXT NOT NULL,
			lead_count    INTEGER NOT NULL DEFAULT 0,
			archive_uri   TEXT,
			error_message TEXT
		)`, s.runs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_started_at_idx ON %s (started_at DESC)`, s.runs, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			endpoint_host TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			lead_count    INTEGER NOT NULL,
			delivered_at  TIMESTAMPTZ NOT NULL,
			duration_ms   BIGINT NOT NULL,
			error_message TEXT
		)`, s.deliveries),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts a running row; a repeated start for the same ID is ignored.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, product, region, lead_limit, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`, s.runs)
	_, err := s.pool.Exec(ctx, query, run.ID, run.Product, run.Region, run.Limit, run.StartedAt, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("insert run start: %w", err)
	}
	return nil
}

// CompleteRun writes the terminal fields of a run.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, c store.RunCompletion) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, lead_count = $3, archive_uri = $4, error_message = $5
		WHERE id = $6`, s.runs)
	tag, err := s.pool.Exec(ctx, query, c.FinishedAt, string(c.Status), c.LeadCount, c.ArchiveURI, c.ErrorMessage, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordDelivery appends a delivery row.
func (s *RunStore) RecordDelivery(ctx context.Context, d store.Delivery) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, kind, endpoint_host, outcome, lead_count, delivered_at, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`, s.deliveries)
	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Kind, d.EndpointHost, d.Outcome, d.LeadCount, d.DeliveredAt, d.Duration.Milliseconds(), d.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, product, region, lead_limit, started_at, finished_at, status, lead_count, archive_uri, error_message
		FROM %s
		WHERE id = $1`, s.runs)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	query := fmt.Sprintf(`
		SELECT id, product, region, lead_limit, started_at, finished_at, status, lead_count, archive_uri, error_message
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`, s.runs)
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListDeliveries returns deliveries newest first.
func (s *RunStore) ListDeliveries(ctx context.Context, limit, offset int) ([]store.Delivery, error) {
	query := fmt.Sprintf(`
		SELECT id, kind, endpoint_host, outcome, lead_count, delivered_at, duration_ms, error_message
		FROM %s
		ORDER BY delivered_at DESC
		LIMIT $1 OFFSET $2`, s.deliveries)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []store.Delivery{}
	for rows.Next() {
		var (
			d          store.Delivery
			durationMs int64
		)
		if err := rows.Scan(&d.ID, &d.Kind, &d.EndpointHost, &d.Outcome, &d.LeadCount, &d.DeliveredAt, &durationMs, &d.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		d.Duration = time.Duration(durationMs) * time.Millisecond
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return deliveries, nil
}

// Ping checks connectivity for readiness probes.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Product,
		&run.Region,
		&run.Limit,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.LeadCount,
		&run.ArchiveURI,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
