package decoder

import (
	"fmt"

	"github.com/sleepmon/clipd/internal/sma1"
	"github.com/sleepmon/clipd/internal/wav"
)

// AudioFormat describes a decoded clip for display next to the player.
type AudioFormat struct {
	SampleRate     uint32 `json:"sample_rate"`
	TotalSamples   uint32 `json:"total_samples"`
	DecodedSamples uint32 `json:"decoded_samples"`
	Complete       bool   `json:"complete"`
	StartEpoch     uint32 `json:"start_epoch"`
}

// Duration returns the playable length in seconds.
func (f AudioFormat) Duration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(f.DecodedSamples) / float64(f.SampleRate)
}

// Clip is a decoded clip: a playable WAVE buffer plus its format.
type Clip struct {
	WAV    []byte
	Format AudioFormat
}

// ProbeFormat reads the SMA1 header of buf without decoding any blocks.
// DecodedSamples and Complete are left zero.
func ProbeFormat(buf []byte) (*AudioFormat, error) {
	h, err := sma1.ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	return &AudioFormat{
		SampleRate:   h.SampleRate,
		TotalSamples: h.TotalSamples,
		StartEpoch:   h.StartEpoch,
	}, nil
}

// DecodeToWAV decodes an SMA1 buffer and packages the samples as a mono
// 16-bit WAVE file. A header that fails validation returns a *sma1.FormatError
// and no clip. A buffer that ends early still yields a clip with
// Format.Complete set to false.
func DecodeToWAV(buf []byte) (*Clip, error) {
	h, err := sma1.ParseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clip header: %w", err)
	}

	res := sma1.Decode(h, buf)

	return &Clip{
		WAV: wav.Encode(res.Samples, h.SampleRate),
		Format: AudioFormat{
			SampleRate:     h.SampleRate,
			TotalSamples:   h.TotalSamples,
			DecodedSamples: uint32(len(res.Samples)),
			Complete:       res.Complete,
			StartEpoch:     h.StartEpoch,
		},
	}, nil
}
