package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// flakyStore fails the first n operations, then delegates to an in-memory map.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string][]byte
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, objects: make(map[string][]byte)}
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient failure")
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *flakyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient failure")
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestRetryStoreRecoversFromTransientFailures(t *testing.T) {
	fs := newFlakyStore(2)
	rs := WithRetry(fs, 3, time.Millisecond)

	if err := rs.Put(context.Background(), "k", []byte("v"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fs.calls != 3 {
		t.Fatalf("calls = %d, want 3", fs.calls)
	}

	rc, err := rs.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "v" {
		t.Fatalf("data = %q", data)
	}
}

func TestRetryStoreGivesUpAfterAttempts(t *testing.T) {
	fs := newFlakyStore(100)
	rs := WithRetry(fs, 3, time.Millisecond)

	if err := rs.Put(context.Background(), "k", []byte("v"), "text/plain"); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if fs.calls != 3 {
		t.Fatalf("calls = %d, want 3", fs.calls)
	}
}

func TestRetryStoreDoesNotRetryNotFound(t *testing.T) {
	fs := newFlakyStore(0)
	rs := WithRetry(fs, 3, time.Millisecond)

	_, err := rs.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if fs.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retries on not-found)", fs.calls)
	}
}

func TestRetryStoreHonorsContextCancel(t *testing.T) {
	fs := newFlakyStore(100)
	rs := WithRetry(fs, 5, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rs.Put(ctx, "k", []byte("v"), "text/plain")
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if fs.calls > 1 {
		t.Fatalf("calls = %d, want at most 1 after cancel", fs.calls)
	}
}
