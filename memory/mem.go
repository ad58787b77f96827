package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type memKey struct {
	session string
	key     string
}

// MemStore is an in-process Store. Records do not survive a restart.
type MemStore struct {
	mu      sync.RWMutex
	records map[memKey]Record
	now     func() time.Time
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[memKey]Record),
		now:     time.Now,
	}
}

// Init is a no-op.
func (s *MemStore) Init(context.Context) error { return nil }

// Get returns the record stored at (session, key).
func (s *MemStore) Get(ctx context.Context, session, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	session, key = address(session, key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[memKey{session, key}]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Value = append(json.RawMessage(nil), rec.Value...)
	return rec, nil
}

// Set stores value at (session, key).
func (s *MemStore) Set(ctx context.Context, session, key string, value json.RawMessage) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	value, err := checkValue(value)
	if err != nil {
		return Record{}, err
	}
	session, key = address(session, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	id := memKey{session, key}
	now := s.now().UTC()
	if prev, ok := s.records[id]; ok && !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Microsecond)
	}
	rec := Record{
		SessionID: session,
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: now,
	}
	s.records[id] = rec
	return rec, nil
}

// Recent returns up to limit keys of session, newest first.
func (s *MemStore) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session = normalize(session)

	s.mu.RLock()
	out := make([]Entry, 0)
	for id, rec := range s.records {
		if id.session == session {
			out = append(out, Entry{Key: rec.Key, UpdatedAt: rec.UpdatedAt})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit = recentLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
