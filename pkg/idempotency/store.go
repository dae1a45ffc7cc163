// Package idempotency replays the stored response of a request that is
// retried with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"time"
)

// Response is a completed response kept for replay.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Store keeps responses by key until they expire.
type Store interface {
	// Get returns the response saved under key. ok is false when nothing is
	// stored or the entry expired.
	Get(ctx context.Context, key string) (resp Response, ok bool, err error)
	// Save stores resp under key for ttl. An existing entry is kept.
	Save(ctx context.Context, key string, resp Response, ttl time.Duration) error
}
