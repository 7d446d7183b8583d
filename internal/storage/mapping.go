package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"catalogsync/internal/config"
	"catalogsync/pkg/types"
)

// MappingStore persists the link between canonical products and their remote
// catalog counterparts. Records are written on every sync attempt, success or
// failure, and never deleted automatically.
type MappingStore interface {
	Get(ctx context.Context, siteID, externalID string) (*types.SyncMapping, error)
	Put(ctx context.Context, mapping *types.SyncMapping) error
}

// MemoryMappingStore keeps mappings in memory, for tests and dry runs.
type MemoryMappingStore struct {
	mu       sync.RWMutex
	mappings map[string]types.SyncMapping
}

// NewMemoryMappingStore builds an empty in-memory store.
func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{mappings: make(map[string]types.SyncMapping)}
}

func mappingKey(siteID, externalID string) string {
	return siteID + "|" + externalID
}

// Get returns the stored mapping or nil when none exists.
func (s *MemoryMappingStore) Get(_ context.Context, siteID, externalID string) (*types.SyncMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.mappings[mappingKey(siteID, externalID)]; ok {
		copied := m
		return &copied, nil
	}
	return nil, nil
}

// Put stores or replaces a mapping.
func (s *MemoryMappingStore) Put(_ context.Context, mapping *types.SyncMapping) error {
	if mapping == nil {
		return errors.New("mapping is nil")
	}
	s.mu.Lock()
	s.mappings[mappingKey(mapping.SiteID, mapping.ExternalID)] = *mapping
	s.mu.Unlock()
	return nil
}

// SQLStore persists mappings and job records in a relational database.
type SQLStore struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLStore opens the database and optionally applies the schema.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	store := &SQLStore{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Get returns the stored mapping or nil when none exists.
func (s *SQLStore) Get(ctx context.Context, siteID, externalID string) (*types.SyncMapping, error) {
	query := `
        SELECT site_id, external_id, remote_product_id, last_sync_status,
               last_synced_at, last_payload, last_error
        FROM sync_mappings WHERE site_id = $1 AND external_id = $2
    `
	var m types.SyncMapping
	var status string
	err := s.db.QueryRowContext(ctx, query, siteID, externalID).Scan(
		&m.SiteID, &m.ExternalID, &m.RemoteProductID, &status,
		&m.LastSyncedAt, &m.LastPayload, &m.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	m.LastSyncStatus = types.SyncStatus(status)
	return &m, nil
}

// Put upserts a mapping keyed by (site_id, external_id).
func (s *SQLStore) Put(ctx context.Context, mapping *types.SyncMapping) error {
	if mapping == nil {
		return errors.New("mapping is nil")
	}
	query := `
        INSERT INTO sync_mappings
            (site_id, external_id, remote_product_id, last_sync_status, last_synced_at, last_payload, last_error)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (site_id, external_id) DO UPDATE SET
            remote_product_id = EXCLUDED.remote_product_id,
            last_sync_status = EXCLUDED.last_sync_status,
            last_synced_at = EXCLUDED.last_synced_at,
            last_payload = EXCLUDED.last_payload,
            last_error = EXCLUDED.last_error
    `
	if _, err := s.db.ExecContext(ctx, query,
		mapping.SiteID,
		mapping.ExternalID,
		mapping.RemoteProductID,
		string(mapping.LastSyncStatus),
		mapping.LastSyncedAt,
		mapping.LastPayload,
		mapping.LastError,
	); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			return s.Put(ctx, mapping)
		}
		return fmt.Errorf("store mapping: %w", err)
	}
	return nil
}

// SaveJob upserts a job record.
func (s *SQLStore) SaveJob(ctx context.Context, job *types.JobRecord) error {
	if job == nil {
		return errors.New("job is nil")
	}
	query := `
        INSERT INTO sync_jobs
            (id, site_id, status, started_at, finished_at, total_found, total_created, total_updated, total_failed, error_message)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            finished_at = EXCLUDED.finished_at,
            total_found = EXCLUDED.total_found,
            total_created = EXCLUDED.total_created,
            total_updated = EXCLUDED.total_updated,
            total_failed = EXCLUDED.total_failed,
            error_message = EXCLUDED.error_message
    `
	if _, err := s.db.ExecContext(ctx, query,
		job.ID, job.SiteID, string(job.Status), job.StartedAt, job.FinishedAt,
		job.TotalFound, job.TotalCreated, job.TotalUpdated, job.TotalFailed, job.ErrorMessage,
	); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			return s.SaveJob(ctx, job)
		}
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_mappings (
		    site_id TEXT NOT NULL,
		    external_id TEXT NOT NULL,
		    remote_product_id BIGINT,
		    last_sync_status TEXT,
		    last_synced_at TIMESTAMPTZ,
		    last_payload BYTEA,
		    last_error TEXT,
		    PRIMARY KEY (site_id, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
		    id TEXT PRIMARY KEY,
		    site_id TEXT,
		    status TEXT,
		    started_at TIMESTAMPTZ,
		    finished_at TIMESTAMPTZ,
		    total_found BIGINT,
		    total_created BIGINT,
		    total_updated BIGINT,
		    total_failed BIGINT,
		    error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_started_at ON sync_jobs (started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
