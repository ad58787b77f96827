package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeConn struct {
	pool     *fakePool
	execErr  error
	row      func(sql string, args []any) pgx.Row
	released bool
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.pool.statements = append(c.pool.statements, sql)
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.pool.statements = append(c.pool.statements, sql)
	c.pool.args = args
	return c.row(sql, args)
}

func (c *fakeConn) Release() {
	c.released = true
	c.pool.released++
}

type fakePool struct {
	acquireErr error
	execErr    error
	row        func(sql string, args []any) pgx.Row

	acquired   int
	released   int
	statements []string
	args       []any
	closed     bool
}

func (p *fakePool) Acquire(context.Context) (pgConn, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	return &fakeConn{pool: p, execErr: p.execErr, row: p.row}, nil
}

func (p *fakePool) Close() { p.closed = true }

func rowErr(err error) func(string, []any) pgx.Row {
	return func(string, []any) pgx.Row {
		return fakeRow{scan: func(...any) error { return err }}
	}
}

func TestPostgresStore_Init(t *testing.T) {
	pool := &fakePool{}
	s := newPostgresStore(pool, "")

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if len(pool.statements) != 3 {
		t.Fatalf("Init() ran %d statements, want 3", len(pool.statements))
	}
	if !strings.Contains(pool.statements[0], `CREATE TABLE IF NOT EXISTS "memory_records"`) {
		t.Errorf("unexpected DDL: %s", pool.statements[0])
	}
	if !strings.Contains(pool.statements[0], "UNIQUE (session_id, key)") {
		t.Errorf("DDL lacks address uniqueness: %s", pool.statements[0])
	}
	if !strings.Contains(pool.statements[2], "updated_at DESC") {
		t.Errorf("missing recency index: %s", pool.statements[2])
	}
	if pool.released != pool.acquired {
		t.Errorf("released %d of %d connections", pool.released, pool.acquired)
	}
}

func TestPostgresStore_SetIsSingleUpsert(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := &fakePool{row: func(string, []any) pgx.Row {
		return fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*time.Time)) = ts
			return nil
		}}
	}}
	s := newPostgresStore(pool, "reina_memory")

	rec, err := s.Set(context.Background(), "s1", "k1", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !rec.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, ts)
	}
	if len(pool.statements) != 1 {
		t.Fatalf("Set() ran %d statements, want 1", len(pool.statements))
	}
	stmt := pool.statements[0]
	for _, want := range []string{`"reina_memory"`, "ON CONFLICT (session_id, key)", "EXCLUDED.value", "updated_at = NOW()"} {
		if !strings.Contains(stmt, want) {
			t.Errorf("upsert lacks %q: %s", want, stmt)
		}
	}
	if pool.args[2] != `{"a":1}` {
		t.Errorf("value arg = %v", pool.args[2])
	}
	if pool.released != 1 {
		t.Errorf("released %d connections, want 1", pool.released)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := &fakePool{row: func(string, []any) pgx.Row {
		return fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = `{"a": 1}`
			*(dest[1].(*time.Time)) = ts
			return nil
		}}
	}}
	s := newPostgresStore(pool, "")

	rec, err := s.Get(context.Background(), "s1", "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	assertJSONEqual(t, rec.Value, `{"a":1}`)
	if pool.released != 1 {
		t.Errorf("released %d connections, want 1", pool.released)
	}
}

func TestPostgresStore_Recent(t *testing.T) {
	pool := &fakePool{row: func(_ string, args []any) pgx.Row {
		return fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = `[{"key":"b","updated_at":"2026-03-01T12:00:01.5+00:00"},` +
				`{"key":"a","updated_at":"2026-03-01T12:00:00+00:00"}]`
			return nil
		}}
	}}
	s := newPostgresStore(pool, "")

	entries, err := s.Recent(context.Background(), "s1", 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "b" || entries[1].Key != "a" {
		t.Errorf("Recent() = %+v", entries)
	}
	if pool.args[1] != 5 {
		t.Errorf("limit arg = %v, want 5", pool.args[1])
	}

	for _, limit := range []int{0, -3} {
		if _, err := s.Recent(context.Background(), "s1", limit); err != nil {
			t.Fatalf("Recent(%d) error = %v", limit, err)
		}
		if pool.args[1] != 1 {
			t.Errorf("Recent(%d) limit arg = %v, want 1", limit, pool.args[1])
		}
	}
}

func TestPostgresStore_ReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		row     func(string, []any) pgx.Row
		execErr error
		call    func(s *PostgresStore) error
		wantErr error
	}{
		{
			name: "get not found",
			row:  rowErr(pgx.ErrNoRows),
			call: func(s *PostgresStore) error {
				_, err := s.Get(context.Background(), "s", "k")
				return err
			},
			wantErr: ErrNotFound,
		},
		{
			name: "get business error",
			row:  rowErr(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}),
			call: func(s *PostgresStore) error {
				_, err := s.Get(context.Background(), "s", "k")
				return err
			},
		},
		{
			name: "set connection lost",
			row:  rowErr(&pgconn.PgError{Code: "08006", Message: "connection failure"}),
			call: func(s *PostgresStore) error {
				_, err := s.Set(context.Background(), "s", "k", json.RawMessage(`1`))
				return err
			},
			wantErr: ErrUnavailable,
		},
		{
			name:    "init exec error",
			execErr: errors.New("permission denied"),
			call:    func(s *PostgresStore) error { return s.Init(context.Background()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{row: tt.row, execErr: tt.execErr}
			s := newPostgresStore(pool, "")

			err := tt.call(s)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && errors.Is(err, ErrUnavailable) {
				t.Errorf("business error %v classified as unavailable", err)
			}
			if pool.acquired != 1 || pool.released != 1 {
				t.Errorf("acquired %d released %d, want 1/1", pool.acquired, pool.released)
			}
		})
	}
}

func TestPostgresStore_AcquireFailureIsUnavailable(t *testing.T) {
	pool := &fakePool{acquireErr: errors.New("dial tcp: connection refused")}
	s := newPostgresStore(pool, "")

	if _, err := s.Get(context.Background(), "s", "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
	if err := s.Init(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Init() error = %v, want ErrUnavailable", err)
	}
}

func TestPostgresStore_InvalidValueSkipsDatabase(t *testing.T) {
	pool := &fakePool{}
	s := newPostgresStore(pool, "")

	if _, err := s.Set(context.Background(), "s", "k", json.RawMessage(`{`)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Set() error = %v, want ErrInvalidValue", err)
	}
	if pool.acquired != 0 {
		t.Errorf("acquired %d connections, want 0", pool.acquired)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connect error", &pgconn.ConnectError{}, true},
		{"connection exception class", &pgconn.PgError{Code: "08001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.want {
				t.Errorf("isConnectionError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewPostgresStore_RequiresURL(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), PostgresConfig{}); err == nil {
		t.Error("NewPostgresStore() without URL should fail")
	}
}

func TestPostgresStore_Close(t *testing.T) {
	pool := &fakePool{}
	s := newPostgresStore(pool, "")
	_ = s.Close()
	if !pool.closed {
		t.Error("Close() did not close the pool")
	}
}
