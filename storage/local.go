package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Local stores each key as a file in a directory. Used for local development.
type Local struct {
	dir    string
	logger *slog.Logger
}

// NewLocal creates a directory-backed store, creating the directory if needed.
func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local storage path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return &Local{dir: dir, logger: logger}, nil
}

// Get returns the value stored under key.
func (l *Local) Get(_ context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(l.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read from local storage: %w", err)
	}
	return string(data), nil
}

// Set writes value under key. The file is replaced atomically so readers never
// observe a partial value.
func (l *Local) Set(_ context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("Failed to remove temp file", "path", tmpName, "error", err)
		}
	}()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	path := filepath.Join(l.dir, key)
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	l.logger.Debug("Value saved to local storage", "path", path, "bytes", len(value))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	path := filepath.Join(l.dir, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete from local storage: %w", err)
	}
	l.logger.Debug("Value deleted from local storage", "path", path)
	return nil
}
