// Package storage holds the persisters that keep the job collection durable.
// Each backend lives in its own subpackage; this package carries what they
// share.
package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound      = suite.ErrNotFound
	ErrQuotaExceeded = suite.ErrQuotaExceeded
)

var validKey = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// ValidateKey rejects keys that could escape a backend's namespace.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// CheckQuota returns ErrQuotaExceeded when size exceeds a positive limit.
func CheckQuota(key string, size int, limit int64) error {
	if limit > 0 && int64(size) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, size, limit)
	}
	return nil
}

// ObjectName joins an optional prefix and key into an object path.
func ObjectName(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key + ".json"
	}
	return path.Join(prefix, key+".json")
}

// NoOp discards writes and never finds anything. It keeps the tracker
// running in memory only.
type NoOp struct{}

// Put does nothing.
func (NoOp) Put(context.Context, string, []byte) error { return nil }

// Get always reports ErrNotFound.
func (NoOp) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

// Delete does nothing.
func (NoOp) Delete(context.Context, string) error { return nil }
