// Package store provides the object store the pipeline persists chunks,
// manifests and assets to. Backends: local filesystem and a remote HTTP
// store with built-in retry. Objects are immutable once written.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound marks a missing object. Not-found is permanent and never
// retried, unlike transient transport failures.
var ErrNotFound = errors.New("object not found")

// Store is the narrow object store contract consumed by the pipeline.
// Put is at-least-once-durable on success.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// retryable reports whether an operation error is worth retrying.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// retryStore decorates any backend with exponential backoff: baseDelay,
// doubling, a small fixed cap of attempts.
type retryStore struct {
	inner     Store
	attempts  int
	baseDelay time.Duration
}

// WithRetry wraps a store so transient put/get failures are retried with
// exponential backoff. attempts counts total tries, not extra retries.
func WithRetry(s Store, attempts int, baseDelay time.Duration) Store {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &retryStore{inner: s, attempts: attempts, baseDelay: baseDelay}
}

func (rs *retryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var err error
	delay := rs.baseDelay
	for attempt := 0; attempt < rs.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = rs.inner.Put(ctx, key, data, contentType); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

func (rs *retryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var err error
	delay := rs.baseDelay
	for attempt := 0; attempt < rs.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		var rc io.ReadCloser
		if rc, err = rs.inner.Get(ctx, key); err == nil {
			return rc, nil
		}
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, err
}
