package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	mux := http.NewServeMux()
	var captured string
	mux.HandleFunc("GET /audio/{key...}", func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(m, logger)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audio/abnormal%2F2026-10-17%2Fa.sma", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if len(captured) != 32 {
		t.Errorf("correlation ID %q is not a trace ID", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("X-Correlation-ID = %q, want %q", got, captured)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET" {
		t.Fatalf("spans = %v", spans)
	}

	rm := collect(t, reader)
	hist := findMetric(rm, "clipd.http.request.duration")
	if hist == nil {
		t.Fatal("http duration histogram missing")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	if len(data.DataPoints) != 1 {
		t.Fatalf("got %d data points", len(data.DataPoints))
	}
	route, _ := data.DataPoints[0].Attributes.Value("route")
	if route.AsString() != "GET /audio/{key...}" {
		t.Errorf("route = %q, want the mux pattern", route.AsString())
	}

	if !strings.Contains(logs.String(), "status=418") {
		t.Errorf("log line missing status: %s", logs.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, "json").Info("decoded", "key", "a")
	NewLogger(&buf, slog.LevelInfo, "json").Debug("hidden")
	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"key":"a"`) {
		t.Errorf("unexpected output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
}
