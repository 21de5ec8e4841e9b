package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxClipBytes bounds a single download. A clip at the decoder's
	// sample limit is roughly 5 MB, so anything larger is not an SMA1 clip.
	DefaultMaxClipBytes = 16 << 20

	defaultTimeout = 30 * time.Second
	defaultDevice  = "esp32"
)

// HTTPFetcher downloads clips through the sleepmon API:
//
//	GET <BaseURL>/audio/<escaped key>     raw clip bytes
//	GET <BaseURL>/abnormal?days=&device=  clip listing
type HTTPFetcher struct {
	BaseURL     string
	DeviceID    string
	DeviceToken string
	MaxBytes    int64
	Client      *http.Client
	Logger      *slog.Logger
}

// NewHTTPFetcher returns a fetcher for the API at baseURL.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPFetcher{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		MaxBytes: DefaultMaxClipBytes,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *HTTPFetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *HTTPFetcher) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.DeviceToken != "" {
		req.Header.Set("X-Device-Token", f.DeviceToken)
	}
	if f.DeviceID != "" {
		req.Header.Set("X-Device-Id", f.DeviceID)
	}
	return req, nil
}

// AudioURL returns the upstream URL of key.
func (f *HTTPFetcher) AudioURL(key string) string {
	return strings.TrimRight(f.BaseURL, "/") + "/audio/" + url.PathEscape(key)
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, err := f.newRequest(ctx, f.AudioURL(key))
	if err != nil {
		return nil, &TransportError{Key: key, Err: err}
	}

	start := time.Now()
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &TransportError{Key: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &TransportError{
			Key:        key,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxClipBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &TransportError{Key: key, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) > limit {
		return nil, &TransportError{Key: key, Err: fmt.Errorf("clip exceeds %d bytes", limit)}
	}

	f.logger().Debug("fetched clip",
		"key", key,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return data, nil
}

// ClipRef is one row of the abnormal clip listing.
type ClipRef struct {
	Key       string `json:"r2_key"`
	Timestamp int64  `json:"ts"`
	DateLocal string `json:"date_local"`
	TimeLocal string `json:"time_local"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url,omitempty"`
}

// Listing is the body of GET /abnormal.
type Listing struct {
	OK       bool      `json:"ok"`
	TZ       string    `json:"tz"`
	DeviceID string    `json:"device_id"`
	Days     int       `json:"days"`
	Items    []ClipRef `json:"items"`
	Error    string    `json:"error,omitempty"`
}

// ClampDays applies the upstream range of 1..7 days.
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > 7 {
		return 7
	}
	return days
}

// ListAbnormal returns the clips recorded by device over the last days days.
// An empty device falls back to the fetcher's DeviceID, then to "esp32".
func (f *HTTPFetcher) ListAbnormal(ctx context.Context, days int, device string) (*Listing, error) {
	if device == "" {
		device = f.DeviceID
	}
	if device == "" {
		device = defaultDevice
	}

	q := url.Values{}
	q.Set("days", strconv.Itoa(ClampDays(days)))
	q.Set("device", device)
	rawURL := strings.TrimRight(f.BaseURL, "/") + "/abnormal?" + q.Encode()

	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return nil, &TransportError{Key: "abnormal", Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &TransportError{Key: "abnormal", Err: err}
	}
	defer resp.Body.Close()

	var listing Listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&listing); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &TransportError{Key: "abnormal", StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &TransportError{Key: "abnormal", Err: fmt.Errorf("failed to decode listing: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || !listing.OK {
		msg := listing.Error
		if msg == "" {
			msg = resp.Status
		}
		te := &TransportError{Key: "abnormal", Err: errors.New(msg)}
		if resp.StatusCode != http.StatusOK {
			te.StatusCode = resp.StatusCode
		}
		return nil, te
	}

	return &listing, nil
}
