package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// Bucket stores each key as an object in a Cloud Storage bucket.
type Bucket struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	prefix string
}

// NewBucket creates a Cloud Storage backend. Object names are prefix + key.
func NewBucket(client *storage.Client, bucket, prefix string, logger *slog.Logger) *Bucket {
	return &Bucket{
		client: client,
		logger: logger,
		bucket: bucket,
		prefix: prefix,
	}
}

func (b *Bucket) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

// Get returns the value stored under key.
func (b *Bucket) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	name := b.prefix + key

	var data []byte
	missing := false
	err := retry.Do(
		func() error {
			r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
			if err != nil {
				// Don't retry on "not found" errors
				if errors.Is(err, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", err)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			data, err = io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read from storage: %w", err)
			}
			return nil
		},
		b.retryOptions(ctx, "get", key)...,
	)
	if err != nil {
		if missing {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get after retries: %w", err)
	}
	return string(data), nil
}

// Set writes value under key.
func (b *Bucket) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	name := b.prefix + key

	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, err := io.WriteString(w, value); err != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close storage writer: %w", err)
			}
			return nil
		},
		b.retryOptions(ctx, "set", key)...,
	)
	if err != nil {
		return fmt.Errorf("set after retries: %w", err)
	}

	b.logger.Debug("Value saved", "bucket", b.bucket, "object", name, "bytes", len(value))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	name := b.prefix + key

	err := retry.Do(
		func() error {
			if err := b.client.Bucket(b.bucket).Object(name).Delete(ctx); err != nil {
				// Deletion is idempotent
				if errors.Is(err, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", err)
			}
			return nil
		},
		b.retryOptions(ctx, "delete", key)...,
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	b.logger.Debug("Value deleted", "bucket", b.bucket, "object", name)
	return nil
}
