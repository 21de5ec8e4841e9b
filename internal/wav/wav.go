// Package wav writes mono 16-bit PCM as a canonical 44-byte-header RIFF/WAVE
// file.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the canonical PCM WAVE header.
	HeaderSize = 44

	formatPCM     = 1
	channels      = 1
	bitsPerSample = 16
	bytesPerFrame = channels * bitsPerSample / 8
)

// Header is the on-disk layout of the canonical header.
type Header struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + data size
	Format    [4]byte // "WAVE"

	// fmt sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// data sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

// NewHeader returns the header for sampleCount mono 16-bit samples.
func NewHeader(sampleRate uint32, sampleCount int) Header {
	dataSize := uint32(sampleCount * bytesPerFrame)
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * bytesPerFrame,
		BlockAlign:    bytesPerFrame,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Write writes a complete WAVE file for samples to w.
func Write(w io.Writer, samples []int16, sampleRate uint32) error {
	header := NewHeader(sampleRate, len(samples))
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]byte, len(samples)*bytesPerFrame)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write PCM data: %w", err)
	}
	return nil
}

// Encode returns samples as an in-memory WAVE file.
func Encode(samples []int16, sampleRate uint32) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(samples)*bytesPerFrame)
	// Writes to a bytes.Buffer cannot fail.
	_ = Write(&buf, samples, sampleRate)
	return buf.Bytes()
}

// Samples returns the PCM samples of a buffer produced by Encode.
func Samples(buf []byte) ([]int16, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("WAV buffer is %d bytes, shorter than the header", len(buf))
	}
	var h Header
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" || string(h.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("not a canonical WAVE buffer")
	}
	if h.AudioFormat != formatPCM || h.NumChannels != channels || h.BitsPerSample != bitsPerSample {
		return nil, fmt.Errorf("unsupported WAVE format %d/%dch/%dbit", h.AudioFormat, h.NumChannels, h.BitsPerSample)
	}

	data := buf[HeaderSize:]
	if uint64(h.Subchunk2Size) > uint64(len(data)) {
		return nil, fmt.Errorf("data chunk declares %d bytes, %d present", h.Subchunk2Size, len(data))
	}
	data = data[:h.Subchunk2Size]

	samples := make([]int16, len(data)/bytesPerFrame)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}
