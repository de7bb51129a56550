// Package cache keeps the last successful post list in a key-value store with a
// fixed time-to-live.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"tuy-site/pkg/feed"
	"tuy-site/storage"
)

// Keys under which the entry is stored.
const (
	PostsKey     = "tuy_facebook_posts_cache"
	TimestampKey = "tuy_facebook_posts_timestamp"
)

// DefaultTTL is how long a written entry stays valid.
const DefaultTTL = 900000 * time.Millisecond

// KV is the durable key-value port the store persists to.
// Get must return an error matching storage.ErrNotFound for absent keys.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes the cached post list.
// Failures to persist are logged and never returned to callers.
type Store struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time
	ttl    time.Duration
}

// New creates a cache store. A non-positive ttl selects DefaultTTL.
func New(kv KV, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:     kv,
		logger: logger,
		now:    time.Now,
		ttl:    ttl,
	}
}

// WithClock replaces the store's time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// timestamp returns the stored write time in milliseconds since the epoch.
func (s *Store) timestamp(ctx context.Context) (int64, bool) {
	raw, err := s.kv.Get(ctx, TimestampKey)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("Failed to read cache timestamp", "error", err)
		}
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("Malformed cache timestamp", "value", raw, "error", err)
		return 0, false
	}
	return ms, true
}

// Age returns how long ago the entry was written.
// The second result is false when there is no readable timestamp.
func (s *Store) Age(ctx context.Context) (time.Duration, bool) {
	ms, ok := s.timestamp(ctx)
	if !ok {
		return 0, false
	}
	return time.Duration(s.now().UnixMilli()-ms) * time.Millisecond, true
}

// IsValid reports whether a timestamp exists and is younger than the TTL.
func (s *Store) IsValid(ctx context.Context) bool {
	age, ok := s.Age(ctx)
	return ok && age < s.ttl
}

// Read returns the stored entry, or nil when it is missing or malformed.
// An entry without a readable timestamp is treated as missing.
func (s *Store) Read(ctx context.Context) *feed.CacheEntry {
	ms, ok := s.timestamp(ctx)
	if !ok {
		return nil
	}

	raw, err := s.kv.Get(ctx, PostsKey)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("Failed to read cached posts", "error", err)
		}
		return nil
	}

	var posts []feed.DisplayPost
	if err := json.Unmarshal([]byte(raw), &posts); err != nil {
		s.logger.Error("Failed to parse cached posts", "error", err)
		return nil
	}

	return &feed.CacheEntry{Posts: posts, Timestamp: ms}
}

// Write replaces the entry with posts stamped at the current time.
//
// The timestamp is removed before the payload is replaced and written after it,
// so a partial failure leaves an entry that IsValid and Read both reject.
func (s *Store) Write(ctx context.Context, posts []feed.DisplayPost) {
	data, err := json.Marshal(posts)
	if err != nil {
		s.logger.Error("Failed to cache posts", "error", err)
		return
	}

	if err := s.kv.Delete(ctx, TimestampKey); err != nil {
		s.logger.Error("Failed to cache posts", "step", "delete timestamp", "error", err)
		return
	}
	if err := s.kv.Set(ctx, PostsKey, string(data)); err != nil {
		s.logger.Error("Failed to cache posts", "step", "write posts", "error", err)
		return
	}
	now := s.now().UnixMilli()
	if err := s.kv.Set(ctx, TimestampKey, strconv.FormatInt(now, 10)); err != nil {
		s.logger.Error("Failed to cache posts", "step", "write timestamp", "error", err)
		return
	}

	s.logger.Info("Posts cached", "count", len(posts), "timestamp", now)
}

// Clear removes both keys.
func (s *Store) Clear(ctx context.Context) {
	failed := false
	for _, key := range []string{TimestampKey, PostsKey} {
		if err := s.kv.Delete(ctx, key); err != nil {
			s.logger.Error("Failed to clear cache", "key", key, "error", err)
			failed = true
		}
	}
	if !failed {
		s.logger.Info("Cache cleared")
	}
}
