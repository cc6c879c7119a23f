// Package blob abstracts the object store holding call recordings.
// Keys are partitioned per call id, so there is no cross-call contention,
// and re-uploading the same key with equivalent content is harmless.
package blob

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("blob: object not found")

type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)

	// SignedGetURL returns a time-limited playback URL for key.
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
