package cache

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sleepmon/clipd/internal/decoder"
	"github.com/sleepmon/clipd/internal/sma1"
)

// Cache file format:
// - Magic bytes (4): "SMWC" (sleepmon WAV cache)
// - Version (1): 0x01
// - Flags (1): bit 0 set when the clip decoded completely
// - Reserved (2)
// - Sample Rate (4): uint32 little-endian
// - Total Samples (4): uint32 little-endian, as declared by the clip
// - Decoded Samples (4): uint32 little-endian
// - Start Epoch (4): uint32 little-endian
// - Total header: 24 bytes
// - Followed by the zstd-compressed WAVE buffer

const (
	cacheMagic      = "SMWC"
	cacheVersion    = 0x01
	cacheHeaderSize = 24

	flagComplete = 0x01
)

type cacheHeader struct {
	Magic          [4]byte
	Version        uint8
	Flags          uint8
	Reserved       [2]byte
	SampleRate     uint32
	TotalSamples   uint32
	DecodedSamples uint32
	StartEpoch     uint32
}

// WriteCacheHeader writes the cache file header
func WriteCacheHeader(w io.Writer, format *decoder.AudioFormat) error {
	h := cacheHeader{
		Version:        cacheVersion,
		SampleRate:     format.SampleRate,
		TotalSamples:   format.TotalSamples,
		DecodedSamples: format.DecodedSamples,
		StartEpoch:     format.StartEpoch,
	}
	copy(h.Magic[:], cacheMagic)
	if format.Complete {
		h.Flags |= flagComplete
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write cache header: %w", err)
	}
	return nil
}

// ReadCacheHeader reads the cache file header
func ReadCacheHeader(r io.Reader) (*decoder.AudioFormat, error) {
	var h cacheHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read cache header: %w", err)
	}
	if string(h.Magic[:]) != cacheMagic {
		return nil, fmt.Errorf("invalid cache file: bad magic bytes")
	}
	if h.Version != cacheVersion {
		return nil, fmt.Errorf("unsupported cache version: %d", h.Version)
	}
	if h.SampleRate == 0 || h.SampleRate > sma1.MaxSampleRate {
		return nil, fmt.Errorf("invalid cache file: sample rate %d out of range", h.SampleRate)
	}
	if h.TotalSamples == 0 || h.TotalSamples > sma1.MaxTotalSamples {
		return nil, fmt.Errorf("invalid cache file: total samples %d out of range", h.TotalSamples)
	}
	if h.DecodedSamples > h.TotalSamples {
		return nil, fmt.Errorf("invalid cache file: %d decoded of %d samples", h.DecodedSamples, h.TotalSamples)
	}

	return &decoder.AudioFormat{
		SampleRate:     h.SampleRate,
		TotalSamples:   h.TotalSamples,
		DecodedSamples: h.DecodedSamples,
		Complete:       h.Flags&flagComplete != 0,
		StartEpoch:     h.StartEpoch,
	}, nil
}
