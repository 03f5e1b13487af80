// Package postgres provides a Postgres-backed tracking store for deployments
// where several harvester instances share one ledger. The schema is one row
// per document URL, mirroring the single-record contract of the file store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuflow/harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for tracking rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements harvest.TrackingStore on a Postgres table.
type Store struct {
	pool      pgxPool
	table     string
	artifacts harvest.ArtifactStore
	minBytes  int64
	clock     harvest.Clock
}

// New creates a Postgres-backed Store and ensures the tracking table exists.
func New(ctx context.Context, cfg Config, artifacts harvest.ArtifactStore, minBytes int64, clock harvest.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tracking.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, artifacts, minBytes, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing). The table is not created.
func NewWithPool(pool pgxPool, table string, artifacts harvest.ArtifactStore, minBytes int64, clock harvest.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if table == "" {
		table = "document_tracking"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if minBytes <= 0 {
		minBytes = harvest.DefaultMinArtifactBytes
	}
	return &Store{
		pool:      pool,
		table:     table,
		artifacts: artifacts,
		minBytes:  minBytes,
		clock:     clock,
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	metadata JSONB
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create tracking table: %w", err)
	}
	return nil
}

// Get implements harvest.TrackingStore.
func (s *Store) Get(ctx context.Context, url string) (harvest.TrackingRecord, bool, error) {
	query := fmt.Sprintf(
		`SELECT status, recorded_at, path, metadata FROM %s WHERE url = $1`, s.table)

	var (
		status       string
		recordedAt   time.Time
		path         string
		metadataJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, url).Scan(&status, &recordedAt, &path, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.TrackingRecord{}, false, nil
	}
	if err != nil {
		return harvest.TrackingRecord{}, false, &harvest.TrackingStoreError{Err: err}
	}

	record := harvest.TrackingRecord{
		URL:       url,
		Status:    harvest.TrackingStatus(status),
		Timestamp: recordedAt,
		Path:      path,
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return harvest.TrackingRecord{}, false, &harvest.TrackingStoreError{Err: err}
		}
	}
	return record, true, nil
}

// RecordSuccess implements harvest.TrackingStore.
func (s *Store) RecordSuccess(ctx context.Context, url, path string, metadata map[string]string) error {
	return s.upsert(ctx, url, harvest.StatusSuccess, path, metadata)
}

// RecordFailure implements harvest.TrackingStore.
func (s *Store) RecordFailure(ctx context.Context, url string, metadata map[string]string) error {
	return s.upsert(ctx, url, harvest.StatusFailed, "", metadata)
}

func (s *Store) upsert(ctx context.Context, url string, status harvest.TrackingStatus, path string, metadata map[string]string) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return &harvest.TrackingStoreError{Err: err}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, status, recorded_at, path, metadata)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
	status = EXCLUDED.status,
	recorded_at = EXCLUDED.recorded_at,
	path = EXCLUDED.path,
	metadata = EXCLUDED.metadata`, s.table)

	if _, err := s.pool.Exec(ctx, query, url, string(status), s.now(), path, metadataJSON); err != nil {
		return &harvest.TrackingStoreError{Err: err}
	}
	return nil
}

// IsAlreadyDone implements harvest.TrackingStore. A success row alone is not
// enough; the artifact it references must still be on disk above the size
// floor.
func (s *Store) IsAlreadyDone(ctx context.Context, url string) bool {
	record, ok, err := s.Get(ctx, url)
	if err != nil || !ok {
		return false
	}
	if record.Status != harvest.StatusSuccess || record.Path == "" {
		return false
	}
	size, ok := s.artifacts.Stat(record.Path)
	return ok && size > s.minBytes
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
