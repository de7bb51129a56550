package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"tuy-site/cache"
	"tuy-site/config"
	"tuy-site/fetcher"
	"tuy-site/graph"
	"tuy-site/storage"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// bucketPrefix namespaces the cache objects inside a shared bucket.
const bucketPrefix = "feed-cache/"

// app holds the components shared by the commands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	fetcher *fetcher.Fetcher
	closers []func() error
}

func newLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// newApp opens the configured cache backend and builds the post fetcher.
// Logs go to logOut so command output on stdout stays machine-readable.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger := newLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	kv, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	client := graph.New(graph.Config{
		BaseURL:     cfg.APIBaseURL,
		Version:     cfg.APIVersion,
		PageID:      cfg.PageID,
		AccessToken: cfg.AccessToken,
		Limit:       cfg.PostLimit,
	}, &http.Client{Timeout: 30 * time.Second}, logger)

	a.fetcher = fetcher.New(client, cache.New(kv, cfg.CacheTTL, logger), logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (cache.KV, error) {
	backend := a.cfg.StorageBackend()
	switch backend {
	case config.BackendMemory:
		a.logger.Info("Using in-memory post cache")
		return storage.NewMemory(), nil

	case config.BackendLocal:
		a.logger.Info("Using local file post cache", "storage_path", a.cfg.LocalStorage)
		local, err := storage.NewLocal(a.cfg.LocalStorage, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return local, nil

	case config.BackendSQLite:
		a.logger.Info("Using SQLite post cache", "path", a.cfg.CacheDBPath)
		db, err := storage.OpenSQLite(ctx, a.cfg.CacheDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return db, nil

	case config.BackendGCS:
		a.logger.Info("Using Cloud Storage post cache", "bucket", a.cfg.Bucket)
		var opts []option.ClientOption
		if a.cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(a.cfg.CredentialsJSON)))
		}
		// Without explicit credentials the client uses Application Default Credentials.
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return storage.NewBucket(client, a.cfg.Bucket, bucketPrefix, a.logger), nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, backend)
	}
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close storage", "error", err)
		}
	}
}
