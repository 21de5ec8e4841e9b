// Package observe provides the OpenTelemetry metrics, tracing and structured
// logging used across clipd.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus bridge installed by [InitProvider]. Tests should build a
// [Metrics] with [NewMetrics] and an SDK ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sleepmon/clipd"

// Decode outcomes recorded on [Metrics.Decodes].
const (
	DecodeOK          = "ok"
	DecodePartial     = "partial"
	DecodeFormatError = "format_error"
)

// Cache lookup results recorded on [Metrics.CacheLookups].
const (
	LookupHit  = "hit"
	LookupDisk = "disk"
	LookupMiss = "miss"
)

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// DecodeDuration tracks parse + decode + WAV packaging time.
	DecodeDuration metric.Float64Histogram

	// Decodes counts decode attempts by attribute "status".
	Decodes metric.Int64Counter

	// DecodedSamples counts PCM samples produced.
	DecodedSamples metric.Int64Counter

	// CacheLookups counts cache lookups by attribute "result".
	CacheLookups metric.Int64Counter

	// FetchErrors counts failed clip downloads.
	FetchErrors metric.Int64Counter

	// CachedClips tracks clips held in memory.
	CachedClips metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handling time by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

var decodeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DecodeDuration, err = m.Float64Histogram("clipd.decode.duration",
		metric.WithDescription("Time to decode one SMA1 clip into a WAVE buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Decodes, err = m.Int64Counter("clipd.decodes",
		metric.WithDescription("Decode attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.DecodedSamples, err = m.Int64Counter("clipd.decoded_samples",
		metric.WithDescription("PCM samples reconstructed."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("clipd.cache.lookups",
		metric.WithDescription("Decode cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.FetchErrors, err = m.Int64Counter("clipd.fetch.errors",
		metric.WithDescription("Failed clip downloads."),
	); err != nil {
		return nil, err
	}
	if met.CachedClips, err = m.Int64UpDownCounter("clipd.cache.clips",
		metric.WithDescription("Decoded clips held in memory."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clipd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] created from the global
// meter provider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordDecode records one finished decode attempt.
func (m *Metrics) RecordDecode(ctx context.Context, status string, seconds float64, samples int) {
	m.Decodes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == DecodeFormatError {
		return
	}
	m.DecodeDuration.Record(ctx, seconds)
	m.DecodedSamples.Add(ctx, int64(samples))
}

// RecordLookup records a cache lookup result.
func (m *Metrics) RecordLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFetchError records a failed download.
func (m *Metrics) RecordFetchError(ctx context.Context) {
	m.FetchErrors.Add(ctx, 1)
}
