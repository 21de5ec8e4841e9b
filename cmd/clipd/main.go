package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sleepmon/clipd/internal/analysis"
	"github.com/sleepmon/clipd/internal/cache"
	"github.com/sleepmon/clipd/internal/cliplist"
	"github.com/sleepmon/clipd/internal/config"
	"github.com/sleepmon/clipd/internal/decoder"
	"github.com/sleepmon/clipd/internal/observe"
	"github.com/sleepmon/clipd/internal/server"
	"github.com/sleepmon/clipd/internal/storage"
	"github.com/sleepmon/clipd/internal/wav"
)

var version = "dev"

var errUsage = errors.New("nothing to decode")

var (
	configPath = flag.String("config", getDefaultConfigPath(), "Path to configuration file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	baseURL    = flag.String("base-url", "", "sleepmon API base URL (overrides storage.base_url)")
	clipDir    = flag.String("dir", "", "Local clip directory (overrides storage.directory)")
	outDir     = flag.String("out", ".", "Directory for decoded .wav files")
	days       = flag.Int("days", 1, "Days of abnormal clips to fetch with -list (1-7)")
	device     = flag.String("device", "", "Device ID for -list (overrides storage.device_id)")
	daemonMode = flag.Bool("daemon", false, "Run the HTTP service (otherwise decode clips and exit)")
	listMode   = flag.Bool("list", false, "Decode every clip in the upstream abnormal listing")
	infoOnly   = flag.Bool("info", false, "Print clip metadata instead of writing .wav files")
	probeOnly  = flag.Bool("probe", false, "Check clip headers without decoding or caching")
	clearCache = flag.Bool("clear-cache", false, "Remove every clip from the disk cache before starting")
	saveConfig = flag.Bool("save-config", false, "Write the effective configuration to -config and exit")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		slog.Error("clipd failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	if *saveConfig {
		if err := config.SaveConfig(*configPath, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Saved configuration to %s\n", *configPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	c, disk, err := newCache(cfg, logger)
	if err != nil {
		return err
	}
	if disk != nil {
		defer disk.Close()
	}

	if *clearCache {
		if disk == nil {
			return errors.New("-clear-cache needs cache.directory")
		}
		if err := disk.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		logger.Info("disk cache cleared", "dir", cfg.Cache.Directory)
		if !*daemonMode && !*listMode && flag.NArg() == 0 {
			return nil
		}
	}

	fetcher, httpFetcher := newFetcher(cfg, logger)

	// Daemon mode: run the HTTP service
	if *daemonMode {
		if !cfg.HasSource() {
			return errors.New("no clip source: set storage.base_url or storage.directory")
		}
		return runDaemon(ctx, cfg, c, fetcher, httpFetcher, logger)
	}

	list := cliplist.New()
	if *listMode {
		if httpFetcher == nil {
			return errors.New("-list needs storage.base_url")
		}
		listing, err := httpFetcher.ListAbnormal(ctx, *days, cfg.Storage.DeviceID)
		if err != nil {
			return fmt.Errorf("failed to list clips: %w", err)
		}
		logger.Info("listed abnormal clips", "count", len(listing.Items), "days", listing.Days, "tz", listing.TZ)
		list.AddRefs(listing.Items)
	}
	list.AddMultiple(flag.Args())

	if list.Length() == 0 {
		return errUsage
	}

	if *probeOnly {
		return runProbe(ctx, localFirst(fetcher), list, logger)
	}
	return runDirect(ctx, c, localFirst(fetcher), list, logger)
}

func applyFlags(cfg *config.Config) {
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *baseURL != "" {
		cfg.Storage.BaseURL = *baseURL
	}
	if *clipDir != "" {
		cfg.Storage.Directory = *clipDir
	}
	if *device != "" {
		cfg.Storage.DeviceID = *device
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
}

func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := observe.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := observe.NewLogger(os.Stderr, level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return logger, nil
}

// newCache builds the decode cache. The disk tier is nil unless
// cache.directory is set; the caller closes it.
func newCache(cfg *config.Config, logger *slog.Logger) (*cache.Cache, *cache.DiskCache, error) {
	opts := cache.Options{
		RetainPartial: cfg.Cache.RetainPartial,
		Logger:        logger,
	}

	var disk *cache.DiskCache
	if cfg.Cache.Directory != "" {
		var err error
		disk, err = cache.NewDiskCache(cfg.Cache.Directory, cfg.CacheMaxBytes(), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("disk cache ready",
			"dir", cfg.Cache.Directory,
			"clips", disk.Len(),
			"bytes", disk.Size(),
		)
		opts.Disk = disk
	}

	return cache.New(opts), disk, nil
}

// newFetcher returns the configured clip source, or nil when none is set.
// The second result is non-nil when the source is the sleepmon API.
func newFetcher(cfg *config.Config, logger *slog.Logger) (storage.Fetcher, *storage.HTTPFetcher) {
	if cfg.Storage.BaseURL != "" {
		f := storage.NewHTTPFetcher(cfg.Storage.BaseURL, cfg.Timeout())
		f.DeviceID = cfg.Storage.DeviceID
		f.DeviceToken = cfg.Storage.DeviceToken
		if n := cfg.MaxClipBytes(); n > 0 {
			f.MaxBytes = n
		}
		f.Logger = logger
		return f, f
	}
	if cfg.Storage.Directory != "" {
		return &storage.DirFetcher{Root: cfg.Storage.Directory}, nil
	}
	return nil, nil
}

// localFirst reads arguments that name an existing file directly and sends
// everything else to next.
func localFirst(next storage.Fetcher) storage.Fetcher {
	return storage.FetcherFunc(func(ctx context.Context, key string) ([]byte, error) {
		if info, err := os.Stat(key); err == nil && !info.IsDir() {
			data, err := os.ReadFile(key)
			if err != nil {
				return nil, &storage.TransportError{Key: key, Err: err}
			}
			return data, nil
		}
		if next == nil {
			return nil, &storage.TransportError{Key: key, Err: os.ErrNotExist}
		}
		return next.Fetch(ctx, key)
	})
}

// runDaemon runs the HTTP service until ctx is cancelled
func runDaemon(ctx context.Context, cfg *config.Config, c *cache.Cache, fetcher storage.Fetcher, httpFetcher *storage.HTTPFetcher, logger *slog.Logger) error {
	opts := server.Options{
		Addr:    cfg.Server.Addr,
		Cache:   c,
		Fetcher: fetcher,
		Logger:  logger,
	}
	if httpFetcher != nil {
		opts.Lister = httpFetcher
	}

	srv := server.New(opts)
	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("clipd running in daemon mode", "addr", srv.Addr(), "version", version)

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(sctx)
}

// runDirect decodes every queued clip and exits
func runDirect(ctx context.Context, c *cache.Cache, fetcher storage.Fetcher, list *cliplist.List, logger *slog.Logger) error {
	if !*infoOnly {
		if err := os.MkdirAll(*outDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var failed int
	for list.HasNext() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry, err := list.Next()
		if err != nil {
			break
		}

		clip, err := c.GetOrDecode(ctx, entry.Key, func(ctx context.Context) ([]byte, error) {
			return fetcher.Fetch(ctx, entry.Key)
		})
		if err != nil {
			failed++
			logger.Error("failed to decode clip", "key", entry.Key, "err", err)
			continue
		}

		f := clip.Format
		if *infoOnly {
			fmt.Printf("%s\n", entry.Key)
			fmt.Printf("   Sample Rate:      %d Hz\n", f.SampleRate)
			fmt.Printf("   Samples:          %d of %d\n", f.DecodedSamples, f.TotalSamples)
			fmt.Printf("   Duration:         %.2fs\n", f.Duration())
			fmt.Printf("   Complete:         %v\n", f.Complete)
			if f.StartEpoch > 0 {
				fmt.Printf("   Started:          %s\n", time.Unix(int64(f.StartEpoch), 0).Format(time.RFC3339))
			}
			if samples, err := wav.Samples(clip.WAV); err == nil {
				lv := analysis.Analyze(samples, f.SampleRate)
				fmt.Printf("   Peak / RMS:       %.1f / %.1f dBFS\n", lv.PeakDBFS, lv.RMSDBFS)
				fmt.Printf("   Dominant:         %.0f Hz\n", lv.DominantHz)
			}
			fmt.Println()
			continue
		}

		out := filepath.Join(*outDir, entry.Name+".wav")
		if err := os.WriteFile(out, clip.WAV, 0644); err != nil {
			failed++
			logger.Error("failed to write wav", "path", out, "err", err)
			continue
		}
		logger.Info("decoded clip",
			"key", entry.Key,
			"out", out,
			"samples", f.DecodedSamples,
			"complete", f.Complete,
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d clips failed", failed, list.Length())
	}
	return nil
}

// probeClip fetches key and validates its header without decoding blocks.
func probeClip(ctx context.Context, fetcher storage.Fetcher, key string) (*decoder.AudioFormat, int, error) {
	data, err := fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	f, err := decoder.ProbeFormat(data)
	if err != nil {
		return nil, len(data), err
	}
	return f, len(data), nil
}

// runProbe prints the header of every queued clip
func runProbe(ctx context.Context, fetcher storage.Fetcher, list *cliplist.List, logger *slog.Logger) error {
	var failed int
	for list.HasNext() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry, err := list.Next()
		if err != nil {
			break
		}

		f, size, err := probeClip(ctx, fetcher, entry.Key)
		if err != nil {
			failed++
			logger.Error("invalid clip", "key", entry.Key, "err", err)
			continue
		}
		fmt.Printf("%s: %d Hz, %d samples (%.2fs), %d bytes\n",
			entry.Key, f.SampleRate, f.TotalSamples,
			float64(f.TotalSamples)/float64(f.SampleRate), size)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d clips failed", failed, list.Length())
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <key|file> [key|file] ...\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s --list [--days N] [--device ID]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s --daemon\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  # Decode a local clip to ./clip.wav\n")
	fmt.Fprintf(os.Stderr, "  %s ./clip.sma\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n  # Decode today's abnormal clips from the API\n")
	fmt.Fprintf(os.Stderr, "  %s --base-url https://sleepmon-api.example.workers.dev --list --out ./wav\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n  # Check a directory of clips without decoding them\n")
	fmt.Fprintf(os.Stderr, "  %s --probe ./clips/*.sma\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n  # Serve decoded clips over HTTP\n")
	fmt.Fprintf(os.Stderr, "  %s --daemon --addr :8787\n", os.Args[0])
}

func getDefaultConfigPath() string {
	// Check common locations
	locations := []string{
		"./clipd.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "clipd", "config.yaml"),
		"/etc/clipd/config.yaml",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Default to first location if none exist
	return locations[0]
}
