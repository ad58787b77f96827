// Package memory implements the persistent key-value memory store and the
// memory backend that exposes it as get_memory, set_memory and list_memory.
//
// A record is addressed by (session_id, key). Both parts are normalized to
// Unicode NFC before they reach a store, so canonically equivalent spellings
// address the same record. Writes are single atomic upserts; there is at
// most one live record per address.
//
// Three Store implementations are provided:
//
//   - PostgresStore: jackc/pgx connection pool, JSONB values
//   - RedisStore: go-redis hash per record plus a per-session recency index
//   - MemStore: in-process map for development and tests
//
// Connection-level failures are wrapped with ErrUnavailable. The memory
// backend renders them as a soft {"fallback": true} error so callers can keep
// operating offline.
package memory
