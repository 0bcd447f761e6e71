// Package ratewindow implements a per-key sliding-window counter.
//
// The AI reply coordinator uses one window per ticket: an entry is added
// when a reply commits, and a full window suppresses further generation
// until the oldest entry ages out. The default backend is in-memory; a
// Redis backend is available for deployments that want the window shared
// across processes.
package ratewindow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window tracks events per key over a sliding time window. The caller
// supplies the observation instant so tests can drive time explicitly.
type Window interface {
	// Full reports whether key already holds max entries younger than the
	// window span. When full, retryAfter says how long until the oldest
	// entry expires.
	Full(ctx context.Context, key string, at time.Time) (bool, time.Duration, error)

	// Add records one event for key.
	Add(ctx context.Context, key string, at time.Time) error

	// Count returns the number of live entries for key.
	Count(ctx context.Context, key string, at time.Time) (int, error)
}

// Memory is the in-process Window. Entries are pruned on every call, so
// idle keys vanish as soon as they are touched after expiry.
type Memory struct {
	max  int
	span time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// NewMemory creates an in-memory window allowing max entries per span.
func NewMemory(max int, span time.Duration) *Memory {
	return &Memory{max: max, span: span, buckets: make(map[string][]time.Time)}
}

func (m *Memory) prune(key string, at time.Time) []time.Time {
	cutoff := at.Add(-m.span)
	live := m.buckets[key][:0]
	for _, ts := range m.buckets[key] {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	if len(live) == 0 {
		delete(m.buckets, key)
		return nil
	}
	m.buckets[key] = live
	return live
}

// Full implements Window.
func (m *Memory) Full(_ context.Context, key string, at time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.prune(key, at)
	if len(live) < m.max {
		return false, 0, nil
	}
	oldest := live[0]
	for _, ts := range live[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return true, oldest.Add(m.span).Sub(at), nil
}

// Add implements Window.
func (m *Memory) Add(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(key, at)
	m.buckets[key] = append(m.buckets[key], at)
	return nil
}

// Count implements Window.
func (m *Memory) Count(_ context.Context, key string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prune(key, at)), nil
}

// Redis is the shared Window, a sorted set per key scored by event time.
type Redis struct {
	rdb  *redis.Client
	max  int
	span time.Duration
}

// NewRedis creates a Redis-backed window allowing max entries per span.
func NewRedis(rdb *redis.Client, max int, span time.Duration) *Redis {
	return &Redis{rdb: rdb, max: max, span: span}
}

func (r *Redis) key(key string) string { return "ratewindow:" + key }

// Full implements Window.
func (r *Redis) Full(ctx context.Context, key string, at time.Time) (bool, time.Duration, error) {
	k := r.key(key)
	cutoff := at.Add(-r.span).UnixMilli()

	if err := r.rdb.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return false, 0, fmt.Errorf("ratewindow: prune: %w", err)
	}
	n, err := r.rdb.ZCard(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratewindow: card: %w", err)
	}
	if int(n) < r.max {
		return false, 0, nil
	}

	oldest, err := r.rdb.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return true, r.span, err
	}
	expiry := time.UnixMilli(int64(oldest[0].Score)).Add(r.span)
	return true, expiry.Sub(at), nil
}

// Add implements Window.
func (r *Redis) Add(ctx context.Context, key string, at time.Time) error {
	k := r.key(key)
	member := fmt.Sprintf("%d:%s", at.UnixMilli(), uuid.NewString()[:8])
	if err := r.rdb.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: member}).Err(); err != nil {
		return fmt.Errorf("ratewindow: add: %w", err)
	}
	// Keys self-expire a window after the last event.
	return r.rdb.PExpire(ctx, k, r.span).Err()
}

// Count implements Window.
func (r *Redis) Count(ctx context.Context, key string, at time.Time) (int, error) {
	k := r.key(key)
	cutoff := at.Add(-r.span).UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return 0, err
	}
	n, err := r.rdb.ZCard(ctx, k).Result()
	return int(n), err
}
