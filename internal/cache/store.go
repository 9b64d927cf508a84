// Package cache keeps pre-rendered frames warm so a battery-powered device
// wakes, pulls one PNG and sleeps again without waiting on LLM calls.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/inksight/inksight-backend/internal/apperr"
	"github.com/inksight/inksight-backend/internal/logger"
)

// Store is the persistent byte-level frame layer. Entries carry their
// creation time; liveness is decided by the cache layer on read, never
// baked into the entry. Get returns apperr.ErrCacheMiss for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	Set(ctx context.Context, key string, val []byte, createdAt time.Time) error
	Delete(ctx context.Context, key string) error
}

const (
	redisKeyPrefix = "inksight:frame:"
	// redisGCHorizon only garbage-collects keys of devices that stopped
	// pulling; it plays no part in liveness decisions.
	redisGCHorizon = 48 * time.Hour
	// timestampLen prefixes each value with the creation time in unix
	// nanoseconds, big-endian.
	timestampLen = 8
)

type redisStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisStore connects using REDIS_ADDR and verifies the connection with
// a ping before anything depends on it.
func NewRedisStore(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{
		log: log.With("service", "RedisFrameStore"),
		rdb: rdb,
	}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, time.Time{}, apperr.ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis get: %w", err)
	}
	if len(raw) < timestampLen {
		return nil, time.Time{}, apperr.ErrCacheMiss
	}
	createdAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:timestampLen])))
	return raw[timestampLen:], createdAt, nil
}

func (s *redisStore) Set(ctx context.Context, key string, val []byte, createdAt time.Time) error {
	buf := make([]byte, timestampLen+len(val))
	binary.BigEndian.PutUint64(buf[:timestampLen], uint64(createdAt.UnixNano()))
	copy(buf[timestampLen:], val)
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, buf, redisGCHorizon).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type memoryEntry struct {
	val       []byte
	createdAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore is the in-process Store the cache tests exercise the
// backing layer with.
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, apperr.ErrCacheMiss
	}
	return e.val, e.createdAt, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, val []byte, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{val: val, createdAt: createdAt}
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
