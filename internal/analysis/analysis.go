// Package analysis computes level and spectrum summaries of decoded clips.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// SilenceFloorDBFS is reported for digital silence instead of -Inf.
const SilenceFloorDBFS = -120.0

// maxFFTSize bounds the spectrum analysis to the first ~4 s at 16 kHz.
const maxFFTSize = 1 << 16

// Levels summarises a clip's loudness and spectrum.
type Levels struct {
	PeakDBFS   float64 `json:"peak_dbfs"`
	RMSDBFS    float64 `json:"rms_dbfs"`
	DominantHz float64 `json:"dominant_hz"`
}

// Analyze measures samples recorded at sampleRate. DominantHz is the
// strongest non-DC component of a Hann-windowed FFT over the leading
// power-of-two run of samples, or zero when there is too little signal.
func Analyze(samples []int16, sampleRate uint32) Levels {
	lv := Levels{PeakDBFS: SilenceFloorDBFS, RMSDBFS: SilenceFloorDBFS}
	if len(samples) == 0 {
		return lv
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s) / 32768
	}

	peak := floats.Norm(x, math.Inf(1))
	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	lv.PeakDBFS = toDBFS(peak)
	lv.RMSDBFS = toDBFS(rms)

	if rms == 0 {
		return lv
	}
	lv.DominantHz = dominant(x, sampleRate)
	return lv
}

func toDBFS(v float64) float64 {
	if v <= 0 {
		return SilenceFloorDBFS
	}
	return math.Max(20*math.Log10(v), SilenceFloorDBFS)
}

func dominant(x []float64, sampleRate uint32) float64 {
	n := 1
	for n*2 <= len(x) && n*2 <= maxFFTSize {
		n *= 2
	}
	if n < 4 {
		return 0
	}

	seq := window.Hann(append([]float64(nil), x[:n]...))
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, seq)

	best, bestMag := 0, 0.0
	for i := 1; i < len(coeffs); i++ {
		re, im := real(coeffs[i]), imag(coeffs[i])
		if mag := re*re + im*im; mag > bestMag {
			best, bestMag = i, mag
		}
	}
	if best == 0 {
		return 0
	}
	return fft.Freq(best) * float64(sampleRate)
}
