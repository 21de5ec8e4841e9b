// Package cache memoizes decoded clips by storage key.
//
// A [Cache] holds decoded clips in memory for the life of the process and
// optionally persists them to a [DiskCache] so they survive restarts. Clips
// are immutable once captured, so memory entries are never evicted.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/sleepmon/clipd/internal/decoder"
	"github.com/sleepmon/clipd/internal/observe"
	"github.com/sleepmon/clipd/internal/sma1"
)

// FetchFunc returns the raw SMA1 bytes for a clip.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Options configures a [Cache].
type Options struct {
	// RetainPartial keeps clips whose buffer ended early. When false such
	// clips are returned to the caller but fetched again next time.
	RetainPartial bool

	// Disk is an optional persistent tier.
	Disk *DiskCache

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Cache is the decode cache. It is safe for concurrent use; concurrent
// requests for the same key share a single fetch and decode.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*decoder.Clip

	group singleflight.Group

	retainPartial bool
	disk          *DiskCache
	metrics       *observe.Metrics
	log           *slog.Logger
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		entries:       make(map[string]*decoder.Clip),
		retainPartial: opts.RetainPartial,
		disk:          opts.Disk,
		metrics:       opts.Metrics,
		log:           opts.Logger.With("component", "cache"),
	}
}

// Get returns the clip for key if it is held in memory.
func (c *Cache) Get(key string) (*decoder.Clip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clip, ok := c.entries[key]
	return clip, ok
}

// Len returns the number of clips held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrDecode returns the decoded clip for key, calling fetch and decoding
// only when neither tier holds it. Errors from fetch are returned unchanged
// and a header that fails validation returns an error wrapping
// [sma1.ErrFormat]; neither outcome is cached.
//
// The returned clip is shared and must not be modified.
func (c *Cache) GetOrDecode(ctx context.Context, key string, fetch FetchFunc) (*decoder.Clip, error) {
	if clip, ok := c.Get(key); ok {
		c.metrics.RecordLookup(ctx, observe.LookupHit)
		return clip, nil
	}

	// The shared work must not be cancelled by whichever caller started it.
	workCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(workCtx, key, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*decoder.Clip), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, key string, fetch FetchFunc) (*decoder.Clip, error) {
	// A previous flight may have finished between Get and DoChan.
	if clip, ok := c.Get(key); ok {
		c.metrics.RecordLookup(ctx, observe.LookupHit)
		return clip, nil
	}

	if c.disk != nil {
		if clip, ok := c.disk.Get(key); ok {
			if c.keep(clip) {
				c.metrics.RecordLookup(ctx, observe.LookupDisk)
				c.store(ctx, key, clip)
				return clip, nil
			}
			// Written while partial clips were retained; fetch it again.
			if err := c.disk.Invalidate(key); err != nil {
				c.log.Warn("failed to drop partial clip", "key", key, "err", err)
			}
		}
	}
	c.metrics.RecordLookup(ctx, observe.LookupMiss)

	ctx, span := observe.StartSpan(ctx, "cache.decode",
		trace.WithAttributes(attribute.String("clip.key", key)))
	defer span.End()
	log := observe.Logger(ctx, c.log).With("key", key)

	buf, err := fetch(ctx)
	if err != nil {
		c.metrics.RecordFetchError(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		log.Warn("clip fetch failed", "err", err)
		return nil, err
	}

	start := time.Now()
	clip, err := decoder.DecodeToWAV(buf)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if errors.Is(err, sma1.ErrFormat) {
			c.metrics.RecordDecode(ctx, observe.DecodeFormatError, elapsed, 0)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		log.Warn("clip decode failed", "bytes", len(buf), "err", err)
		return nil, err
	}

	status := observe.DecodeOK
	if !clip.Format.Complete {
		status = observe.DecodePartial
	}
	c.metrics.RecordDecode(ctx, status, elapsed, int(clip.Format.DecodedSamples))
	span.SetAttributes(
		attribute.Int("clip.decoded_samples", int(clip.Format.DecodedSamples)),
		attribute.Bool("clip.complete", clip.Format.Complete),
	)
	log.Debug("clip decoded",
		"bytes", len(buf),
		"samples", clip.Format.DecodedSamples,
		"total", clip.Format.TotalSamples,
		"complete", clip.Format.Complete,
		"elapsed", elapsed,
	)

	if !c.keep(clip) {
		return clip, nil
	}

	c.store(ctx, key, clip)
	if c.disk != nil {
		if err := c.disk.Put(key, clip); err != nil {
			log.Warn("failed to persist clip", "err", err)
		}
	}
	return clip, nil
}

// keep reports whether clip may be held in memory.
func (c *Cache) keep(clip *decoder.Clip) bool {
	return clip.Format.Complete || c.retainPartial
}

func (c *Cache) store(ctx context.Context, key string, clip *decoder.Clip) {
	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = clip
	c.mu.Unlock()

	if !existed {
		c.metrics.CachedClips.Add(ctx, 1)
	}
}
