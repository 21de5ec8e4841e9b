// Package sma1 reads the SMA1 clip container written by the sleep monitor and
// decodes its block-based IMA ADPCM stream back to 16-bit PCM.
package sma1

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SMA1 file format (all fields little-endian):
// - Magic (4): "SMA1"
// - Header size (4): uint32, offset of the first block
// - Sample rate (4): uint32, Hz
// - Block samples (4): uint32, PCM samples per block
// - Total samples (4): uint32, PCM samples in the whole clip
// - Start epoch (4): uint32, unix seconds of capture start
// - Data bytes (4): uint32, advisory length of the block region
// - Padding up to header size (the device writes 64 bytes)
// - Followed by blocks of 4 + blockSamples/2 bytes:
//   int16 predictor, uint8 step index, uint8 reserved, packed 4-bit codes

const (
	Magic = "SMA1"

	// MinBufferSize is the smallest buffer that can hold a real device header.
	MinBufferSize = 64
	// MinHeaderSize is the end of the fixed header fields.
	MinHeaderSize = 28

	MaxBlockSamples = 4096
	MaxTotalSamples = 10_000_000
	MaxSampleRate   = 1_000_000

	blockHeaderSize = 4
)

// ErrFormat is matched by every *FormatError via errors.Is.
var ErrFormat = errors.New("sma1: invalid format")

// FormatError reports a header that cannot be decoded. No samples are
// produced when parsing fails.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Field == "" {
		return "sma1: " + e.Reason
	}
	return fmt.Sprintf("sma1: bad %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) true for any FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErr(field, format string, args ...any) error {
	return &FormatError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Header holds the validated stream parameters of an SMA1 buffer.
type Header struct {
	HeaderSize   uint32
	SampleRate   uint32
	BlockSamples uint32
	TotalSamples uint32
	StartEpoch   uint32
	DataBytes    uint32

	// DataEnd is the exclusive end offset of the block region inside the
	// buffer the header was parsed from.
	DataEnd int
}

// BlockBytes returns the encoded size of one block.
func (h *Header) BlockBytes() int {
	return blockHeaderSize + int(h.BlockSamples/2)
}

// ParseHeader validates the header at the start of buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < MinBufferSize {
		return nil, formatErr("length", "buffer is %d bytes, need at least %d", len(buf), MinBufferSize)
	}
	if string(buf[0:4]) != Magic {
		return nil, formatErr("magic", "got %q, want %q", buf[0:4], Magic)
	}

	h := &Header{
		HeaderSize:   binary.LittleEndian.Uint32(buf[4:8]),
		SampleRate:   binary.LittleEndian.Uint32(buf[8:12]),
		BlockSamples: binary.LittleEndian.Uint32(buf[12:16]),
		TotalSamples: binary.LittleEndian.Uint32(buf[16:20]),
		StartEpoch:   binary.LittleEndian.Uint32(buf[20:24]),
		DataBytes:    binary.LittleEndian.Uint32(buf[24:28]),
	}

	if h.HeaderSize < MinHeaderSize {
		return nil, formatErr("headerSize", "%d is below the minimum of %d", h.HeaderSize, MinHeaderSize)
	}
	if uint64(h.HeaderSize) > uint64(len(buf)) {
		return nil, formatErr("headerSize", "%d exceeds buffer length %d", h.HeaderSize, len(buf))
	}
	if h.SampleRate == 0 || h.SampleRate > MaxSampleRate {
		return nil, formatErr("sampleRate", "%d out of range [1, %d]", h.SampleRate, MaxSampleRate)
	}
	if h.BlockSamples == 0 || h.BlockSamples > MaxBlockSamples {
		return nil, formatErr("blockSamples", "%d out of range [1, %d]", h.BlockSamples, MaxBlockSamples)
	}
	if h.TotalSamples == 0 || h.TotalSamples > MaxTotalSamples {
		return nil, formatErr("totalSamples", "%d out of range [1, %d]", h.TotalSamples, MaxTotalSamples)
	}

	h.DataEnd = len(buf)
	if h.DataBytes > 0 {
		if end := uint64(h.HeaderSize) + uint64(h.DataBytes); end < uint64(len(buf)) {
			h.DataEnd = int(end)
		}
	}

	return h, nil
}
