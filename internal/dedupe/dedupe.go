// Package dedupe drops repeated webhook deliveries by id using Redis
// SET NX keys. It is an optimization only: on Redis errors it lets the
// delivery through and the database transitions keep the result correct.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return rdb, nil
}

// New returns a store keyed under prefix. A nil client disables dedupe.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (s *Store) key(id string) string { return s.prefix + ":" + id }

// Claim reports whether id is seen for the first time. Redis failures
// count as first sight.
func (s *Store) Claim(ctx context.Context, id string) bool {
	if s == nil || s.rdb == nil {
		return true
	}

	fresh, err := s.rdb.SetNX(ctx, s.key(id), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		slog.Warn("dedupe claim failed, processing anyway", "key", s.key(id), "error", err)
		return true
	}

	return fresh
}

// Release forgets id so a redelivery is processed again. Used when
// handling failed after the claim.
func (s *Store) Release(ctx context.Context, id string) {
	if s == nil || s.rdb == nil {
		return
	}

	err := s.rdb.Del(ctx, s.key(id)).Err()
	if err != nil {
		slog.Warn("dedupe release failed", "key", s.key(id), "error", err)
	}
}
