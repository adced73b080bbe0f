package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// Records are stored as JSON with a TTL, and a sorted set indexed by call
// start time keeps List ordered without scanning the keyspace.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for call records.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "callkit".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed record store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("calls"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "callkit",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// NewRedisStoreFromURL parses a redis:// URL and creates a store.
func NewRedisStoreFromURL(url string, opts ...RedisOption) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(o), opts...), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load retrieves a call record by ID from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*CallRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.callKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeRecord(data)
}

// Save persists a call record with TTL and indexes it by start time.
// Uses a pipeline to batch the SET and index update into a single round-trip.
func (s *RedisStore) Save(ctx context.Context, rec *CallRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	rec.SavedAt = time.Now()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.callKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.StartTime.UnixMilli()),
		Member: rec.ID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Delete removes a call record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	pipe := s.client.Pipeline()
	delCmd := pipe.Del(ctx, s.callKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns records ordered by start time. Index entries whose record
// has expired are pruned.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*CallRecord, error) {
	start := int64(opts.Offset)
	stop := start + int64(opts.limit()) - 1

	var (
		ids []string
		err error
	)
	if opts.ascending() {
		ids, err = s.client.ZRange(ctx, s.indexKey(), start, stop).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, s.indexKey(), start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return []*CallRecord{}, nil
	}

	return s.pipelinedLoad(ctx, ids)
}

// pipelinedLoad fetches records in one round-trip, preserving order.
func (s *RedisStore) pipelinedLoad(ctx context.Context, ids []string) ([]*CallRecord, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.callKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	recs := make([]*CallRecord, 0, len(ids))
	var expired []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("redis zrem failed: %w", err)
		}
	}
	return recs, nil
}

// callKey generates the Redis key for a call record.
func (s *RedisStore) callKey(id string) string {
	return fmt.Sprintf("%s:call:%s", s.prefix, id)
}

// indexKey is the sorted set of call IDs scored by start time.
func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:calls:by_start", s.prefix)
}
