package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/sleepmon/clipd/internal/analysis"
	"github.com/sleepmon/clipd/internal/cliplist"
	"github.com/sleepmon/clipd/internal/decoder"
	"github.com/sleepmon/clipd/internal/observe"
	"github.com/sleepmon/clipd/internal/sma1"
	"github.com/sleepmon/clipd/internal/storage"
	"github.com/sleepmon/clipd/internal/wav"
)

const defaultListDays = 7

// InfoResponse is the body of GET /info/{key}.
type InfoResponse struct {
	OK  bool   `json:"ok"`
	Key string `json:"key"`
	decoder.AudioFormat
	DurationSeconds float64          `json:"duration_seconds"`
	Levels          *analysis.Levels `json:"levels,omitempty"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) decode(ctx context.Context, key string) (*decoder.Clip, error) {
	return s.cache.GetOrDecode(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.fetcher.Fetch(ctx, key)
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing clip key"})
		return
	}

	clip, err := s.decode(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("X-Sample-Rate", strconv.FormatUint(uint64(clip.Format.SampleRate), 10))
	h.Set("X-Total-Samples", strconv.FormatUint(uint64(clip.Format.TotalSamples), 10))
	h.Set("X-Decoded-Samples", strconv.FormatUint(uint64(clip.Format.DecodedSamples), 10))
	h.Set("X-Decode-Complete", strconv.FormatBool(clip.Format.Complete))
	if clip.Format.Complete {
		h.Set("Cache-Control", "public, max-age=86400, immutable")
	} else {
		h.Set("Cache-Control", "no-store")
	}
	if r.URL.Query().Get("download") == "1" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": cliplist.NameForKey(key) + ".wav",
		}))
	}

	var modtime time.Time
	if clip.Format.StartEpoch > 0 {
		modtime = time.Unix(int64(clip.Format.StartEpoch), 0)
	}
	http.ServeContent(w, r, "", modtime, bytes.NewReader(clip.WAV))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing clip key"})
		return
	}

	clip, err := s.decode(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := InfoResponse{
		OK:              true,
		Key:             key,
		AudioFormat:     clip.Format,
		DurationSeconds: clip.Format.Duration(),
	}
	if samples, err := wav.Samples(clip.WAV); err == nil {
		lv := analysis.Analyze(samples, clip.Format.SampleRate)
		resp.Levels = &lv
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAbnormal(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no clip listing configured"})
		return
	}

	q := r.URL.Query()
	days := defaultListDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "days must be an integer"})
			return
		}
		days = n
	}

	listing, err := s.lister.ListAbnormal(r.Context(), storage.ClampDays(days), q.Get("device"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	base := publicBase(r)
	for i := range listing.Items {
		listing.Items[i].URL = base + "/audio/" + url.PathEscape(listing.Items[i].Key)
	}
	if listing.Items == nil {
		listing.Items = []storage.ClipRef{}
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"ok":     true,
		"cached": s.cache.Len(),
	}
	// Decoded clips are never evicted from memory, so report what they cost.
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(r.Context()); err == nil {
			body["rss_bytes"] = mem.RSS
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// publicBase returns the scheme and host the client used to reach us.
func publicBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	var te *storage.TransportError
	switch {
	case errors.Is(err, sma1.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.As(err, &te):
		if te.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody is left to answer.
		return
	}
	status := statusFor(err)
	observe.Logger(r.Context(), s.log).Warn("request failed",
		"path", r.URL.Path,
		"status", status,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func gzipped(h http.Handler) http.Handler {
	return gzhttp.GzipHandler(h)
}

// withCORS allows any origin, as the upstream API does, and answers
// preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers",
			"X-Sample-Rate, X-Total-Samples, X-Decoded-Samples, X-Decode-Complete, Content-Disposition, X-Correlation-ID")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Range, X-Device-Token, X-Device-Id")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
