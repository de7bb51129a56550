// Package storage provides the durable key-value backends behind the feed cache.
//
// Values are small strings (a JSON post list and a millisecond timestamp), so every
// backend stores one object per key. Backends are safe for concurrent use and
// writes are last-writer-wins.
package storage

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: object doesn't exist")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// IsNotFound checks if an error indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// validateKey rejects keys that could escape a directory or bucket prefix.
func validateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
