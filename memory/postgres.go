package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table PostgresStore uses when none is configured.
const DefaultTable = "memory_records"

// pgConn is the subset of *pgxpool.Conn the store uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// pgPool hands out connections, one per operation.
type pgPool interface {
	Acquire(ctx context.Context) (pgConn, error)
	Close()
}

type poolAdapter struct {
	pool *pgxpool.Pool
}

func (p poolAdapter) Acquire(ctx context.Context) (pgConn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p poolAdapter) Close() { p.pool.Close() }

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// URL is a libpq connection string or postgres:// URL. Required.
	URL string

	// Table is the records table. Defaults to DefaultTable.
	Table string

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// PostgresStore is a Store backed by a PostgreSQL table with JSONB values.
type PostgresStore struct {
	pool  pgPool
	table string
	sql   pgStatements
}

type pgStatements struct {
	createTable   string
	createKeyIdx  string
	createTimeIdx string
	upsert        string
	get           string
	recent        string
}

// NewPostgresStore parses cfg and creates a lazily connecting pool. No
// connection is made until the first operation.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres store: URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return newPostgresStore(poolAdapter{pool: pool}, cfg.Table), nil
}

func newPostgresStore(pool pgPool, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{
		pool:  pool,
		table: table,
		sql:   buildStatements(table),
	}
}

func buildStatements(table string) pgStatements {
	t := pgx.Identifier{table}.Sanitize()
	keyIdx := pgx.Identifier{table + "_session_key_idx"}.Sanitize()
	timeIdx := pgx.Identifier{table + "_updated_at_idx"}.Sanitize()

	return pgStatements{
		createTable: `CREATE TABLE IF NOT EXISTS ` + t + ` (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (session_id, key)
)`,
		createKeyIdx:  `CREATE INDEX IF NOT EXISTS ` + keyIdx + ` ON ` + t + ` (session_id, key)`,
		createTimeIdx: `CREATE INDEX IF NOT EXISTS ` + timeIdx + ` ON ` + t + ` (updated_at DESC)`,
		upsert: `INSERT INTO ` + t + ` (session_id, key, value)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (session_id, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
RETURNING updated_at`,
		get: `SELECT value::text, updated_at FROM ` + t + `
WHERE session_id = $1 AND key = $2`,
		recent: `SELECT COALESCE(json_agg(json_build_object('key', r.key, 'updated_at', r.updated_at)
ORDER BY r.updated_at DESC, r.key), '[]'::json)::text
FROM (SELECT key, updated_at FROM ` + t + `
WHERE session_id = $1 ORDER BY updated_at DESC, key LIMIT $2) r`,
	}
}

// Table returns the records table name.
func (s *PostgresStore) Table() string { return s.table }

// Init creates the records table and its indexes if they do not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, stmt := range []string{s.sql.createTable, s.sql.createKeyIdx, s.sql.createTimeIdx} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return classifyPG("init schema", err)
		}
	}
	return nil
}

// Get returns the record stored at (session, key).
func (s *PostgresStore) Get(ctx context.Context, session, key string) (Record, error) {
	session, key = address(session, key)

	conn, err := s.acquire(ctx)
	if err != nil {
		return Record{}, err
	}
	defer conn.Release()

	var (
		value     string
		updatedAt time.Time
	)
	if err := conn.QueryRow(ctx, s.sql.get, session, key).Scan(&value, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, classifyPG("get", err)
	}
	return Record{
		SessionID: session,
		Key:       key,
		Value:     json.RawMessage(value),
		UpdatedAt: updatedAt,
	}, nil
}

// Set upserts value at (session, key) in a single statement.
func (s *PostgresStore) Set(ctx context.Context, session, key string, value json.RawMessage) (Record, error) {
	value, err := checkValue(value)
	if err != nil {
		return Record{}, err
	}
	session, key = address(session, key)

	conn, err := s.acquire(ctx)
	if err != nil {
		return Record{}, err
	}
	defer conn.Release()

	var updatedAt time.Time
	if err := conn.QueryRow(ctx, s.sql.upsert, session, key, string(value)).Scan(&updatedAt); err != nil {
		return Record{}, classifyPG("set", err)
	}
	return Record{
		SessionID: session,
		Key:       key,
		Value:     value,
		UpdatedAt: updatedAt,
	}, nil
}

// Recent returns up to limit keys of session, newest first.
func (s *PostgresStore) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	session = normalize(session)
	limit = recentLimit(limit)

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var raw string
	if err := conn.QueryRow(ctx, s.sql.recent, session, limit).Scan(&raw); err != nil {
		return nil, classifyPG("recent", err)
	}
	out := make([]Entry, 0)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("recent: decode: %w", err)
	}
	return out, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// acquire failures always mean the database could not be reached.
func (s *PostgresStore) acquire(ctx context.Context) (pgConn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return conn, nil
}

func classifyPG(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
