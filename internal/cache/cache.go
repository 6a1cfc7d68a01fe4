package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned when a key is not present in the store.
	ErrMiss = errors.New("cache: miss")

	// ErrUnavailable is returned when no store is configured or the store
	// cannot be reached. Callers are expected to degrade (treat as miss,
	// fail open) rather than propagate this as a request failure.
	ErrUnavailable = errors.New("cache: store unavailable")
)

// Store is a thin wrapper around a redis client providing the key/value
// operations the pipeline needs: TTL'd get/set, existence checks, pattern
// invalidation and access to the underlying client for atomic scripts.
//
// A nil *Store is valid and behaves as a permanently unavailable store, so
// the app can run without redis in development.
type Store struct {
	db *redis.Client
}

// Open returns a Store connected to the given address, verifying the
// connection with a ping.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping failed: %w", err)
	}

	return &Store{db: client}, nil
}

// Get returns the value stored at key, ErrMiss if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, ErrUnavailable
	}
	val, err := s.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, nil
}

// Set stores value at key with the given TTL. A zero TTL means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrUnavailable
	}
	if err := s.db.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes key from the store. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil {
		return ErrUnavailable
	}
	if err := s.db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil {
		return false, ErrUnavailable
	}
	n, err := s.db.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// TTL returns the remaining time to live of key. A negative duration means
// the key has no expiry or does not exist (per redis semantics).
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s == nil {
		return 0, ErrUnavailable
	}
	d, err := s.db.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return d, nil
}

// DeletePattern removes all keys matching pattern (SCAN + DEL) and returns
// the number deleted. Used for cache invalidation.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if s == nil {
		return 0, ErrUnavailable
	}

	var deleted int
	iter := s.db.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.db.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return deleted, nil
}

// CountPattern returns the number of keys matching pattern. Used for cache
// statistics.
func (s *Store) CountPattern(ctx context.Context, pattern string) (int, error) {
	if s == nil {
		return 0, ErrUnavailable
	}

	var count int
	iter := s.db.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Client exposes the underlying redis client for callers that need atomic
// primitives beyond plain get/set (the rate limiter's window script).
// Returns nil when no store is configured.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
