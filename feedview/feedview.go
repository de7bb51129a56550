// Package feedview turns a fetch into the {posts, loading, error} state a page renders.
//
// The view always has posts to show: an empty or failed fetch is replaced by the
// bundled fallback list together with a non-blocking error.
package feedview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"tuy-site/pkg/feed"
)

const (
	// MaxPosts caps the number of fetched posts shown.
	MaxPosts = 10
	// FallbackCount is how many bundled posts replace a failed or empty fetch.
	FallbackCount = 4
	// DefaultWait is how long Load waits for a fetch before serving the fallback.
	// It must stay below the HTTP server's write timeout.
	DefaultWait = 20 * time.Second
)

// ErrNoPosts is reported alongside the fallback list when the API returned nothing.
var ErrNoPosts = errors.New("no posts returned from API")

// ErrSlowFetch is reported alongside the fallback list when the fetch outlasts the wait.
var ErrSlowFetch = errors.New("timed out waiting for posts")

// Kind tags the outcome of one fetch.
type Kind int

const (
	// Ok means the fetch returned at least one post.
	Ok Kind = iota
	// Empty means the fetch succeeded with no posts.
	Empty
	// Failed means the fetch returned an error.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one fetch.
type Result struct {
	Err   error
	Posts []feed.DisplayPost
	Kind  Kind
}

// FromFetch classifies the return values of a fetch.
func FromFetch(posts []feed.DisplayPost, err error) Result {
	switch {
	case err != nil:
		return Result{Kind: Failed, Err: err}
	case len(posts) == 0:
		return Result{Kind: Empty}
	default:
		return Result{Kind: Ok, Posts: posts}
	}
}

// State is what the view renders.
type State struct {
	Err     error
	Posts   []feed.DisplayPost
	Loading bool
}

// ErrorMessage returns the error text, or "" when there is none.
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Resolve applies the fallback policy to a finished fetch. Loading is always false.
func Resolve(r Result, fallback []feed.DisplayPost) State {
	switch r.Kind {
	case Ok:
		return State{Posts: head(r.Posts, MaxPosts)}
	case Empty:
		return State{Posts: head(fallback, FallbackCount), Err: ErrNoPosts}
	default:
		err := r.Err
		if err == nil {
			err = errors.New("fetch failed")
		}
		return State{Posts: head(fallback, FallbackCount), Err: err}
	}
}

func head(posts []feed.DisplayPost, n int) []feed.DisplayPost {
	if len(posts) > n {
		posts = posts[:n]
	}
	out := make([]feed.DisplayPost, len(posts))
	copy(out, posts)
	return out
}

// Fetcher is the feed source a hook reads from.
type Fetcher interface {
	GetPosts(ctx context.Context, forceRefresh bool) ([]feed.DisplayPost, error)
}

// Hook runs one fetch per mount and exposes the resulting state.
type Hook struct {
	fetcher  Fetcher
	logger   *slog.Logger
	fallback []feed.DisplayPost
	wait     time.Duration
}

// New creates a hook. A nil fallback selects the bundled posts.
func New(fetcher Fetcher, fallback []feed.DisplayPost, logger *slog.Logger) *Hook {
	if fallback == nil {
		fallback = feed.FallbackPosts()
	}
	return &Hook{
		fetcher:  fetcher,
		logger:   logger,
		fallback: fallback,
		wait:     DefaultWait,
	}
}

// WithWait sets how long Load waits before resolving to the fallback posts.
func (h *Hook) WithWait(d time.Duration) *Hook {
	if d > 0 {
		h.wait = d
	}
	return h
}

// Mount is a single fetch cycle. Its state is loading until the fetch resolves.
type Mount struct {
	done    chan struct{}
	state   State
	mu      sync.Mutex
	mounted bool
}

// Mount starts a fetch. hardReload forces the fetcher to bypass its cache.
//
// The fetch is not cancelled when ctx ends or the mount is dropped; it runs to
// completion so its cache write-back still happens.
func (h *Hook) Mount(ctx context.Context, hardReload bool) *Mount {
	m := &Mount{
		done:    make(chan struct{}),
		state:   State{Loading: true, Posts: []feed.DisplayPost{}},
		mounted: true,
	}
	if hardReload {
		h.logger.Info("Hard reload detected, forcing refresh")
	}

	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(m.done)
		posts, err := h.fetcher.GetPosts(fetchCtx, hardReload)
		result := FromFetch(posts, err)
		switch result.Kind {
		case Empty:
			h.logger.Warn("No posts available, using fallback", "fallback_count", min(len(h.fallback), FallbackCount))
		case Failed:
			h.logger.Error("Error loading posts, using fallback", "error", err)
		}
		m.set(Resolve(result, h.fallback))
	}()
	return m
}

func (m *Mount) set(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted {
		return
	}
	m.state = s
}

// State returns the current state.
func (m *Mount) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the fetch has finished.
func (m *Mount) Done() <-chan struct{} {
	return m.done
}

// Unmount stops the mount from accepting further state updates.
func (m *Mount) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = false
}

// Load mounts, waits for the fetch and returns the resolved state.
//
// A fetch still running after the hook's wait resolves to the fallback posts with
// ErrSlowFetch; it keeps running in the background and still fills the cache.
// If ctx ends first the mount is dropped and the loading state is returned.
func (h *Hook) Load(ctx context.Context, hardReload bool) State {
	m := h.Mount(ctx, hardReload)
	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	select {
	case <-m.Done():
		return m.State()
	case <-timer.C:
		m.Unmount()
		h.logger.Warn("Posts still loading, using fallback", "waited", h.wait.String())
		return Resolve(FromFetch(nil, ErrSlowFetch), h.fallback)
	case <-ctx.Done():
		m.Unmount()
		return m.State()
	}
}
