package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	payload := []byte("SMA1 clip bytes")
	var (
		mu                          sync.Mutex
		gotPath, gotToken, gotDevice string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.EscapedPath()
		gotToken = r.Header.Get("X-Device-Token")
		gotDevice = r.Header.Get("X-Device-Id")
		mu.Unlock()
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", 0)
	f.DeviceToken = "secret"
	f.DeviceID = "bedroom"

	data, err := f.Fetch(context.Background(), "abnormal/2026-10-17/1760000000_seg.sma")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data = %q, want %q", data, payload)
	}
	mu.Lock()
	defer mu.Unlock()
	if want := "/audio/abnormal%2F2026-10-17%2F1760000000_seg.sma"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if gotToken != "secret" || gotDevice != "bedroom" {
		t.Errorf("headers = %q/%q", gotToken, gotDevice)
	}
}

func TestHTTPFetcher_StatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		notFound bool
	}{
		{http.StatusNotFound, true},
		{http.StatusUnauthorized, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"ok":false}`, tc.status)
			}))
			defer srv.Close()

			_, err := NewHTTPFetcher(srv.URL, 0).Fetch(context.Background(), "k")
			if !errors.Is(err, ErrTransport) {
				t.Fatalf("err = %v, want ErrTransport", err)
			}
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("err %T is not *TransportError", err)
			}
			if te.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tc.status)
			}
			if te.NotFound() != tc.notFound {
				t.Errorf("NotFound = %v, want %v", te.NotFound(), tc.notFound)
			}
		})
	}
}

func TestHTTPFetcher_ConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(url, 0).Fetch(context.Background(), "k")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != 0 || te.Err == nil {
		t.Errorf("unexpected error fields: %+v", te)
	}
}

func TestHTTPFetcher_MaxBytes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 0)
	f.MaxBytes = 1024
	if _, err := f.Fetch(context.Background(), "big"); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}

	f.MaxBytes = 2048
	data, err := f.Fetch(context.Background(), "big")
	if err != nil || len(data) != 2048 {
		t.Fatalf("at limit: %d bytes, err %v", len(data), err)
	}
}

func TestHTTPFetcher_ListAbnormal(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abnormal" {
			http.NotFound(w, r)
			return
		}
		queries <- r.URL.RawQuery
		fmt.Fprint(w, `{"ok":true,"tz":"Asia/Ho_Chi_Minh","device_id":"esp32","days":7,"items":[
			{"r2_key":"abnormal/2026-10-17/1760680000_a.sma","ts":1760680000,"date_local":"2026-10-17","time_local":"12:46:40","filename":"a.sma","size_bytes":4160,"url":"https://api/audio/x"}
		]}`)
	}))
	defer srv.Close()

	listing, err := NewHTTPFetcher(srv.URL, 0).ListAbnormal(context.Background(), 30, "")
	if err != nil {
		t.Fatalf("ListAbnormal: %v", err)
	}
	if q := <-queries; q != "days=7&device=esp32" {
		t.Errorf("query = %q", q)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("got %d items", len(listing.Items))
	}
	item := listing.Items[0]
	if item.Key != "abnormal/2026-10-17/1760680000_a.sma" || item.Timestamp != 1760680000 || item.SizeBytes != 4160 {
		t.Errorf("item = %+v", item)
	}
	if listing.TZ != "Asia/Ho_Chi_Minh" {
		t.Errorf("TZ = %q", listing.TZ)
	}
}

func TestHTTPFetcher_ListAbnormalError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"ok":false,"error":"unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, 0).ListAbnormal(context.Background(), 1, "esp32")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusUnauthorized || te.Err.Error() != "unauthorized" {
		t.Errorf("error = %+v", te)
	}
}

func TestClampDays(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{-3: 1, 0: 1, 1: 1, 5: 5, 7: 7, 8: 7, 100: 7} {
		if got := ClampDays(in); got != want {
			t.Errorf("ClampDays(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestDirFetcher(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "abnormal", "2026-10-17"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "abnormal", "2026-10-17", "clip.sma"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &DirFetcher{Root: root}
	ctx := context.Background()

	data, err := f.Fetch(ctx, "abnormal/2026-10-17/clip.sma")
	if err != nil || string(data) != "data" {
		t.Fatalf("Fetch = %q, %v", data, err)
	}

	_, err = f.Fetch(ctx, "abnormal/missing.sma")
	var te *TransportError
	if !errors.As(err, &te) || !te.NotFound() {
		t.Errorf("missing file err = %v, want not-found TransportError", err)
	}

	for _, key := range []string{"", "../etc/passwd", "abnormal/../../x"} {
		if _, err := f.Fetch(ctx, key); !errors.Is(err, ErrTransport) {
			t.Errorf("Fetch(%q) err = %v, want ErrTransport", key, err)
		}
	}
}

func TestFetcherFunc(t *testing.T) {
	t.Parallel()

	var f Fetcher = FetcherFunc(func(_ context.Context, key string) ([]byte, error) {
		return []byte(key), nil
	})
	data, err := f.Fetch(context.Background(), "abc")
	if err != nil || string(data) != "abc" {
		t.Errorf("Fetch = %q, %v", data, err)
	}
}
