// Package poll keeps the post cache warm between visitor requests.
//
// Cloud Scheduler (or the serve loop) calls Warm periodically. A normal warm-up
// reads through the cache, so the Graph API is only called once the TTL has
// passed. While the page is active the warmer forces earlier refreshes so new
// announcements appear promptly.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
	"tuy-site/dateformat"
	"tuy-site/pkg/feed"
)

const (
	minInterval = 5 * time.Minute
	maxInterval = 4 * time.Hour
	// doublingPeriod is how much post age doubles the refresh interval.
	doublingPeriod = 3 * time.Hour
)

// Fetcher is the cache-backed post source.
type Fetcher interface {
	GetPosts(ctx context.Context, forceRefresh bool) ([]feed.DisplayPost, error)
}

// Result describes one warm-up.
type Result struct {
	Reason   string
	Interval time.Duration
	Posts    int
	Forced   bool
}

// Warmer refreshes the cache ahead of visitors.
type Warmer struct {
	lastRefresh time.Time
	newestPost  time.Time
	fetcher     Fetcher
	logger      *slog.Logger
	now         func() time.Time
	ttl         time.Duration
	mu          sync.Mutex
}

// New creates a warmer. ttl is the cache time-to-live; forced refreshes are only
// scheduled when the activity interval is shorter than it.
func New(fetcher Fetcher, ttl time.Duration, logger *slog.Logger) *Warmer {
	return &Warmer{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
		ttl:     ttl,
	}
}

// WithClock replaces the warmer's time source. Used by tests.
func (w *Warmer) WithClock(now func() time.Time) *Warmer {
	w.now = now
	return w
}

// Warm fetches posts through the cache, forcing a refresh when the page is
// active and the last refresh is older than the activity interval.
func (w *Warmer) Warm(ctx context.Context) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	interval, reason := CalculateInterval(w.newestPost, now)
	force := !w.lastRefresh.IsZero() && interval < w.ttl && now.Sub(w.lastRefresh) >= interval

	w.logger.Info("Warming post cache",
		"force", force,
		"interval", interval.String(),
		"reason", reason,
		"last_refresh", w.lastRefresh.Format(time.RFC3339))

	posts, err := w.fetcher.GetPosts(ctx, force)
	if err != nil {
		return Result{Forced: force, Interval: interval, Reason: reason}, fmt.Errorf("warm cache: %w", err)
	}

	if force || w.lastRefresh.IsZero() {
		w.lastRefresh = now
	}
	for _, p := range posts {
		t, err := dateformat.Parse(p.Date)
		if err != nil {
			w.logger.Debug("Skipping post with unparsable date", "post_id", p.ID, "date", p.Date)
			continue
		}
		if t.After(w.newestPost) {
			w.newestPost = t
		}
	}

	w.logger.Info("Post cache warmed", "posts", len(posts), "forced", force, "newest_post", w.newestPost.Format(time.RFC3339))
	return Result{Posts: len(posts), Forced: force, Interval: interval, Reason: reason}, nil
}

// Loop calls Warm every period until ctx is done. Errors are logged.
func (w *Warmer) Loop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		if _, err := w.Warm(ctx); err != nil {
			w.logger.Warn("Cache warm-up failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping cache warm-up", "error", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// CalculateInterval returns how often the feed should be refreshed given the time
// of its newest post. The interval starts at five minutes for a fresh post and
// doubles every three hours of post age, capped at four hours.
func CalculateInterval(newestPost, now time.Time) (time.Duration, string) {
	if newestPost.IsZero() {
		return maxInterval, "no posts seen yet"
	}
	age := now.Sub(newestPost)
	if age <= 0 {
		return minInterval, "newest post is brand new"
	}

	// Clamp in float64; old posts push the product past the int64 range.
	scaled := float64(minInterval) * math.Pow(2, float64(age)/float64(doublingPeriod))
	interval := maxInterval
	if scaled < float64(maxInterval) {
		interval = time.Duration(scaled)
	}
	return interval, fmt.Sprintf("newest post is %s old", age.Round(time.Minute))
}
