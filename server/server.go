// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"
	"tuy-site/dateformat"
	"tuy-site/devgate"
	"tuy-site/feedview"
	"tuy-site/pkg/feed"
	"tuy-site/poll"
	"tuy-site/search"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"dateLong":  dateformat.Long,
	"dateShort": dateformat.Short,
	"relative": func(iso string) string {
		return dateformat.Relative(iso, time.Now())
	},
}).ParseFS(templateFS, "tmpl/*.tmpl"))

// writeTimeout bounds a response. Feed.Load must resolve well within it; see
// feedview.DefaultWait.
const writeTimeout = 60 * time.Second

// Feed loads the announcement state for one page view.
type Feed interface {
	Load(ctx context.Context, hardReload bool) feedview.State
}

// Cache drops the cached posts.
type Cache interface {
	ClearCache(ctx context.Context)
}

// Warmer refreshes the cache ahead of visitors.
type Warmer interface {
	Warm(ctx context.Context) (poll.Result, error)
}

// Searcher looks up site pages.
type Searcher interface {
	Search(query string, limit int) []search.Result
}

// Server handles HTTP requests.
type Server struct {
	feed           Feed
	cache          Cache
	warmer         Warmer
	search         Searcher
	gate           *devgate.Gate
	logger         *slog.Logger
	refreshLimiter *rateLimiter
	loginLimiter   *rateLimiter
}

// Config holds server configuration. Gate may be nil, which disables /dev.
type Config struct {
	Feed   Feed
	Cache  Cache
	Warmer Warmer
	Search Searcher
	Gate   *devgate.Gate
	Logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		feed:   cfg.Feed,
		cache:  cfg.Cache,
		warmer: cfg.Warmer,
		search: cfg.Search,
		gate:   cfg.Gate,
		logger: cfg.Logger,
		// Forced refreshes hit the Graph API, so each visitor gets a handful per hour.
		refreshLimiter: newRateLimiter(5, time.Hour),
		loginLimiter:   newRateLimiter(20, time.Hour),
	}
}

// Handler returns the site's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(securityHeaders)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Post("/pollz", s.handlePoll)
	r.Get("/search", s.handleSearch)

	r.Route("/api", func(r chi.Router) {
		r.Get("/posts", s.handlePosts)
		r.Get("/search", s.handleSearchAPI)
	})

	if s.gate != nil {
		r.Route("/dev", func(r chi.Router) {
			r.Get("/login", s.handleDevLogin)
			r.Post("/verify", s.handleDevVerify)
			r.Get("/logout", s.gate.HandleLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.gate.Require)
				r.Get("/", s.handleDevHome)
				r.Post("/cache/clear", s.handleDevClearCache)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		s.render(w, "notfound.tmpl", map[string]string{"Path": r.URL.Path})
	})

	return r
}

// ListenAndServe serves the site on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	res, err := s.warmer.Warm(r.Context())
	if err != nil {
		s.logger.Error("Cache warm-up failed", "error", err)
		http.Error(w, "Warm-up failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"posts":  res.Posts,
		"forced": res.Forced,
	})
}

// pageData is shared by the HTML templates.
type pageData struct {
	Error   string
	Query   string
	PageURL string
	Posts   []feed.DisplayPost
	Results []search.Result
}
