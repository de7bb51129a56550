// Package fetcher serves the post list from the cache or the Graph API.
package fetcher

import (
	"context"
	"log/slog"
	"math"
	"tuy-site/cache"
	"tuy-site/pkg/feed"
	"tuy-site/transform"
)

// Source returns a page's raw posts, newest first.
type Source interface {
	Posts(ctx context.Context) ([]feed.RemotePost, error)
}

// Fetcher combines the cache and the remote source.
type Fetcher struct {
	source Source
	cache  *cache.Store
	logger *slog.Logger
}

// New creates a fetcher.
func New(source Source, store *cache.Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		cache:  store,
		logger: logger,
	}
}

// GetPosts returns display posts, from the cache when it holds a fresh non-empty
// list and from the source otherwise. forceRefresh clears the cache first.
//
// An empty list with a nil error means the source had no posts. Any source
// failure clears the cache and is returned unchanged; there is no fallback here.
func (f *Fetcher) GetPosts(ctx context.Context, forceRefresh bool) ([]feed.DisplayPost, error) {
	if forceRefresh {
		f.logger.Info("Hard refresh requested, clearing cache and fetching fresh data")
		f.cache.Clear(ctx)
	} else if f.cache.IsValid(ctx) {
		if entry := f.cache.Read(ctx); entry != nil && len(entry.Posts) > 0 {
			f.logger.Info("Using cached posts",
				"count", len(entry.Posts),
				"valid_for_minutes", f.remainingMinutes(ctx))
			return entry.Posts, nil
		}
	}

	f.logger.Info("Fetching fresh posts from Graph API")
	remote, err := f.source.Posts(ctx)
	if err != nil {
		f.logger.Error("Failed to fetch posts", "error", err)
		f.cache.Clear(ctx)
		return nil, err
	}

	posts := transform.Posts(remote)
	if len(posts) == 0 {
		f.logger.Warn("No posts returned from API", "remote_count", len(remote))
		return []feed.DisplayPost{}, nil
	}

	f.cache.Write(ctx, posts)
	f.logger.Info("Fetched and cached posts", "count", len(posts))
	return posts, nil
}

// ClearCache drops the cached entry.
func (f *Fetcher) ClearCache(ctx context.Context) {
	f.cache.Clear(ctx)
}

func (f *Fetcher) remainingMinutes(ctx context.Context) int64 {
	age, ok := f.cache.Age(ctx)
	if !ok {
		return 0
	}
	return int64(math.Round((f.cache.TTL() - age).Minutes()))
}
