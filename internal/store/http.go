package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPStore talks to a remote content store over plain PUT/GET. Transient
// transport and 5xx failures are retried with exponential backoff by the
// underlying client; 404 on read surfaces as ErrNotFound and is never
// retried.
type HTTPStore struct {
	base   string
	token  string
	client *retryablehttp.Client
}

// NewHTTPStore creates a client for the store at baseURL. token, when
// non-empty, is sent as a bearer token.
func NewHTTPStore(baseURL, token string) (*HTTPStore, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid store base URL %q", baseURL)
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: client,
	}, nil
}

func (s *HTTPStore) objectURL(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return s.base + "/" + key, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	u, err := s.objectURL(key)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, u, data)
	if err != nil {
		return fmt.Errorf("build put request for %s: %w", key, err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("put object %s: store returned HTTP %d", key, resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	u, err := s.objectURL(key)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request for %s: %w", key, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get object %s: store returned HTTP %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}
