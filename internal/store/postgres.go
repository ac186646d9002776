package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savagescraper/savage/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// emptyKeyPrefix marks surrogate keys for placeholder rows.
const emptyKeyPrefix = "~empty~"

// PostgresStoreConfig controls the Postgres connection pool used for result
// rows.
type PostgresStoreConfig struct {
	DSN             string
	Table           string
	KeyField        string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore persists result rows in Postgres. The resume key is the
// table's primary key and inserts use ON CONFLICT DO NOTHING, so a replayed
// row is a no-op and the at-most-once recording invariant holds even across
// interrupted runs.
type PostgresStore struct {
	pool     pgPool
	table    string
	keyField string
}

// NewPostgresStore connects a pool and ensures the result table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStoreWithPool(pool, cfg.Table, cfg.KeyField)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool pgPool, table, keyField string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if keyField == "" {
		return nil, fmt.Errorf("key field is required")
	}
	return &PostgresStore{pool: pool, table: table, keyField: keyField}, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	resume_key TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure table %s: %w", s.table, err)
	}
	return nil
}

// ExistingKeys selects every persisted resume key. The field argument must
// match the key field the store was built with.
func (s *PostgresStore) ExistingKeys(ctx context.Context, field string) (Keys, int, error) {
	if field != s.keyField {
		return nil, 0, fmt.Errorf("store is keyed by %q, not %q", s.keyField, field)
	}
	query := fmt.Sprintf(`SELECT resume_key FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("select resume keys: %w", err)
	}
	defer rows.Close()

	keys := Keys{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, 0, fmt.Errorf("scan resume key: %w", err)
		}
		if key != "" && !strings.HasPrefix(key, emptyKeyPrefix) {
			keys[key] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate resume keys: %w", err)
	}
	return keys, 0, nil
}

// Append inserts one row keyed by the result's resume key value. Placeholder
// rows with an empty resume key get a surrogate primary key so they can be
// stored without shadowing each other; the resume scan never returns
// surrogates, matching the rule that empty keys are never matched.
func (s *PostgresStore) Append(ctx context.Context, rec scrape.Result) error {
	key := rec[s.keyField]
	if key == "" {
		key = emptyKeyPrefix + uuid.NewString()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (resume_key, payload)
VALUES ($1, $2)
ON CONFLICT (resume_key) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, payload); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Backup is a no-op; durability is the database's concern.
func (s *PostgresStore) Backup(context.Context) (string, error) {
	return "", nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close(context.Context) error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
