package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key RedisStore writes.
const DefaultRedisPrefix = "toolgate:memory"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Prefix namespaces keys. Defaults to DefaultRedisPrefix.
	Prefix string
}

// RedisStore is a Store backed by Redis. Each record is a hash with value
// and updated_at fields; a sorted set per session scored by write time
// serves Recent.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// maxSetAttempts bounds the optimistic retries of Set when another writer
// touches the same record between WATCH and EXEC.
const maxSetAttempts = 8

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Key layout, with parts query-escaped so ':' inside ids cannot collide:
//
//	<prefix>:rec:<session>:<key>   hash {value, updated_at}
//	<prefix>:recent:<session>      zset key -> unix micros
func (s *RedisStore) recordKey(session, key string) string {
	return fmt.Sprintf("%s:rec:%s:%s", s.prefix, url.QueryEscape(session), url.QueryEscape(key))
}

func (s *RedisStore) recentKey(session string) string {
	return fmt.Sprintf("%s:recent:%s", s.prefix, url.QueryEscape(session))
}

// Init checks connectivity. Redis needs no schema.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classifyRedis("init", err)
	}
	return nil
}

// Get returns the record stored at (session, key).
func (s *RedisStore) Get(ctx context.Context, session, key string) (Record, error) {
	session, key = address(session, key)

	fields, err := s.client.HGetAll(ctx, s.recordKey(session, key)).Result()
	if err != nil {
		return Record{}, classifyRedis("get", err)
	}
	value, ok := fields["value"]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{
		SessionID: session,
		Key:       key,
		Value:     json.RawMessage(value),
		UpdatedAt: parseMicros(fields["updated_at"]),
	}, nil
}

// Set writes the record and its recency entry inside one WATCH/MULTI/EXEC
// transaction. The write time is raised past the stored one when the clock
// has stepped back, so updated_at never decreases for a record.
func (s *RedisStore) Set(ctx context.Context, session, key string, value json.RawMessage) (Record, error) {
	value, err := checkValue(value)
	if err != nil {
		return Record{}, err
	}
	session, key = address(session, key)
	recKey := s.recordKey(session, key)

	var updated time.Time
	write := func(tx *redis.Tx) error {
		prev, err := tx.HGet(ctx, recKey, "updated_at").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		updated = s.now().UTC().Truncate(time.Microsecond)
		if last := parseMicros(prev); !last.IsZero() && !updated.After(last) {
			updated = last.Add(time.Microsecond)
		}
		micros := updated.UnixMicro()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recKey,
				"value", string(value),
				"updated_at", strconv.FormatInt(micros, 10),
			)
			pipe.ZAdd(ctx, s.recentKey(session), redis.Z{Score: float64(micros), Member: key})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = s.client.Watch(ctx, write, recKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return Record{}, classifyRedis("set", err)
	}
	return Record{
		SessionID: session,
		Key:       key,
		Value:     value,
		UpdatedAt: updated,
	}, nil
}

// Recent returns up to limit keys of session, newest first.
func (s *RedisStore) Recent(ctx context.Context, session string, limit int) ([]Entry, error) {
	session = normalize(session)
	limit = recentLimit(limit)

	zs, err := s.client.ZRevRangeWithScores(ctx, s.recentKey(session), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, classifyRedis("recent", err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: member, UpdatedAt: time.UnixMicro(int64(z.Score)).UTC()})
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMicros(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}

func classifyRedis(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, redis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
