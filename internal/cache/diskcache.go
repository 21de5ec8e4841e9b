package cache

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/sleepmon/clipd/internal/decoder"
	"github.com/sleepmon/clipd/internal/sma1"
	"github.com/sleepmon/clipd/internal/wav"
)

// Entry represents a cache entry
type Entry struct {
	Key     string
	Path    string
	Size    int64
	element *list.Element
}

// maxEntryBytes is the largest WAVE buffer a valid clip can decode to.
const maxEntryBytes = wav.HeaderSize + 2*sma1.MaxTotalSamples

// DiskCache implements LRU disk-based cache with persistence across sessions.
// Each file holds one decoded clip, compressed with zstd.
type DiskCache struct {
	mu          sync.Mutex
	cacheDir    string
	maxSize     int64
	currentSize int64

	// LRU tracking
	entries map[string]*Entry
	lru     *list.List

	// EncodeAll and DecodeAll are safe for concurrent use.
	enc *zstd.Encoder
	dec *zstd.Decoder

	log       *slog.Logger
	closeOnce sync.Once
}

// NewDiskCache creates a new disk-based LRU cache
// On startup, it scans the cache directory and loads existing cached files
func NewDiskCache(cacheDir string, maxSizeBytes int64, logger *slog.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxEntryBytes),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	c := &DiskCache{
		cacheDir: cacheDir,
		maxSize:  maxSizeBytes,
		entries:  make(map[string]*Entry),
		lru:      list.New(),
		enc:      enc,
		dec:      dec,
		log:      logger.With("component", "diskcache"),
	}

	// Load existing cache entries from disk (persistence across sessions)
	if err := c.scan(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to scan cache: %w", err)
	}

	return c, nil
}

// scan loads existing cache entries from disk
func (c *DiskCache) scan() error {
	return filepath.Walk(c.cacheDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		// Leftovers from an interrupted write
		if filepath.Ext(path) == ".tmp" {
			os.Remove(path)
			return nil
		}

		// Use filename as key
		key := filepath.Base(path)

		entry := &Entry{
			Key:  key,
			Path: path,
			Size: info.Size(),
		}
		entry.element = c.lru.PushBack(entry)
		c.entries[key] = entry
		c.currentSize += info.Size()

		return nil
	})
}

// hashKey creates a consistent hash for a key
func (c *DiskCache) hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// keyToPath converts a cache key to filesystem path
func (c *DiskCache) keyToPath(key string) string {
	return filepath.Join(c.cacheDir, c.hashKey(key))
}

// Get returns the clip stored for key. Files that cannot be read back are
// removed and reported as a miss.
func (c *DiskCache) Get(key string) (*decoder.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Look up by hashed key
	hash := c.hashKey(key)
	entry, exists := c.entries[hash]
	if !exists {
		return nil, false
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		// File disappeared, remove from cache
		c.removeLocked(entry)
		return nil, false
	}

	clip, err := c.decodeEntry(data)
	if err != nil {
		c.log.Warn("dropping unreadable cache entry", "key", key, "err", err)
		c.removeLocked(entry)
		os.Remove(entry.Path)
		return nil, false
	}

	// Move to front (most recently used)
	c.lru.MoveToFront(entry.element)
	return clip, true
}

func (c *DiskCache) decodeEntry(data []byte) (*decoder.Clip, error) {
	r := bytes.NewReader(data)
	format, err := ReadCacheHeader(r)
	if err != nil {
		return nil, err
	}

	wantLen := wav.HeaderSize + 2*int(format.DecodedSamples)
	body, err := c.dec.DecodeAll(data[cacheHeaderSize:], make([]byte, 0, wantLen))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cache file: %w", err)
	}
	if len(body) != wantLen {
		return nil, fmt.Errorf("cache file holds %d bytes, header implies %d", len(body), wantLen)
	}

	return &decoder.Clip{WAV: body, Format: *format}, nil
}

// Put stores clip under key. An existing entry is kept.
func (c *DiskCache) Put(key string, clip *decoder.Clip) error {
	// Compress outside the lock
	var buf bytes.Buffer
	buf.Grow(cacheHeaderSize + len(clip.WAV)/2)
	if err := WriteCacheHeader(&buf, &clip.Format); err != nil {
		return err
	}
	payload := c.enc.EncodeAll(clip.WAV, buf.Bytes())

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.hashKey(key)

	// Check if already exists
	if entry, exists := c.entries[hash]; exists {
		c.lru.MoveToFront(entry.element)
		return nil
	}

	totalSize := int64(len(payload))
	if totalSize > c.maxSize {
		return fmt.Errorf("clip of %d bytes exceeds cache size %d", totalSize, c.maxSize)
	}

	// Write to a temp file first
	path := c.keyToPath(key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	// Rename temp file to final path (atomic)
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to finalize cache file: %w", err)
	}

	// Evict until there's space
	for c.currentSize+totalSize > c.maxSize && c.lru.Len() > 0 {
		c.evictOldest()
	}

	// Add to cache
	entry := &Entry{
		Key:  hash,
		Path: path,
		Size: totalSize,
	}
	entry.element = c.lru.PushFront(entry)
	c.entries[hash] = entry
	c.currentSize += totalSize

	return nil
}

func (c *DiskCache) removeLocked(entry *Entry) {
	delete(c.entries, entry.Key)
	c.lru.Remove(entry.element)
	c.currentSize -= entry.Size
}

// evictOldest removes the least recently used entry
func (c *DiskCache) evictOldest() {
	element := c.lru.Back()
	if element == nil {
		return
	}

	entry := element.Value.(*Entry)
	c.removeLocked(entry)
	os.Remove(entry.Path)
}

// Invalidate removes a cache entry both from memory and disk
func (c *DiskCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.hashKey(key)
	entry, exists := c.entries[hash]
	if !exists {
		// Entry not in cache, nothing to do
		return nil
	}

	c.removeLocked(entry)

	// Remove file from disk
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}

	c.log.Info("invalidated cache entry", "key", key, "hash", hash)
	return nil
}

// Clear removes all cache entries
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.lru = list.New()
	c.currentSize = 0

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(c.cacheDir, 0755)
}

// Size returns current cache size in bytes
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len returns the number of cached clips.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close releases the compression resources. The cache must not be used
// afterwards.
func (c *DiskCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.dec.Close()
		err = c.enc.Close()
	})
	return err
}
