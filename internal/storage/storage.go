// Package storage fetches raw SMA1 clips from where the sleepmon API keeps
// them: the API's /audio proxy over object storage, or a local directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrTransport is matched by every *TransportError via errors.Is.
var ErrTransport = errors.New("storage: transport error")

// TransportError reports a failure to obtain a clip's bytes. StatusCode is
// the upstream HTTP status when one was received, otherwise zero.
type TransportError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("storage: fetch %q: HTTP %d", e.Key, e.StatusCode)
	}
	return fmt.Sprintf("storage: fetch %q: %v", e.Key, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NotFound reports whether the upstream said the clip does not exist.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || errors.Is(e.Err, os.ErrNotExist)
}

// Fetcher returns the raw bytes stored under key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) { return f(ctx, key) }

// DirFetcher reads clips from a local directory, e.g. a synced copy of the
// bucket. Keys are slash-separated paths below Root.
type DirFetcher struct {
	Root string
}

// Fetch implements Fetcher.
func (d *DirFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Key: key, Err: err}
	}
	path, err := d.path(key)
	if err != nil {
		return nil, &TransportError{Key: key, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &TransportError{Key: key, Err: err}
	}
	return data, nil
}

func (d *DirFetcher) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return filepath.Join(d.Root, filepath.FromSlash(key)), nil
}
