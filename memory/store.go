package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Errors returned by stores.
var (
	// ErrNotFound is returned by Get when no record exists for the address.
	ErrNotFound = errors.New("memory record not found")

	// ErrUnavailable wraps connection-level failures of the backing service.
	ErrUnavailable = errors.New("memory store unavailable")

	// ErrInvalidValue is returned when a value is not valid JSON.
	ErrInvalidValue = errors.New("memory value is not valid JSON")
)

// Record is one stored value.
type Record struct {
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entry is a key of a session together with its last write time.
type Entry struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists records.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: every operation honors cancellation and deadlines.
// - Errors: Get returns ErrNotFound for an absent address; connection-level
//   failures wrap ErrUnavailable. Set with a non-JSON value returns ErrInvalidValue.
// - Atomicity: Set is a single atomic upsert; concurrent writers never
//   interleave a read and a write of the same record.
// - Ordering: UpdatedAt of a record never decreases across writes.
// - Limits: Recent treats a limit below 1 as 1.
// - Resources: connections acquired by an operation are released before it returns.
type Store interface {
	// Init creates the schema if it does not exist. Safe to call repeatedly.
	Init(ctx context.Context) error

	// Get returns the record stored at (session, key).
	Get(ctx context.Context, session, key string) (Record, error)

	// Set stores value at (session, key), replacing any previous value.
	Set(ctx context.Context, session, key string, value json.RawMessage) (Record, error)

	// Recent returns up to limit keys of session, most recently written first.
	Recent(ctx context.Context, session string, limit int) ([]Entry, error)

	// Close releases the store's resources.
	Close() error
}

// normalize canonicalizes one address part.
func normalize(s string) string {
	return norm.NFC.String(s)
}

// recentLimit is the limit rule shared by every store.
func recentLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	return limit
}

func address(session, key string) (string, string) {
	return normalize(session), normalize(key)
}

func checkValue(value json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(value))) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(value) {
		return nil, ErrInvalidValue
	}
	return value, nil
}
