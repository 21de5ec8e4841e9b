package analysis

import (
	"math"
	"testing"
)

func sine(freq, amplitude float64, sampleRate, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestAnalyze_Sine(t *testing.T) {
	t.Parallel()

	const rate = 16000
	lv := Analyze(sine(1000, 0.5, rate, 8192), rate)

	if math.Abs(lv.PeakDBFS-(-6.02)) > 0.1 {
		t.Errorf("PeakDBFS = %.2f, want about -6.02", lv.PeakDBFS)
	}
	// A sine's RMS sits 3.01 dB below its peak.
	if math.Abs(lv.RMSDBFS-(-9.03)) > 0.1 {
		t.Errorf("RMSDBFS = %.2f, want about -9.03", lv.RMSDBFS)
	}
	binWidth := float64(rate) / 8192
	if math.Abs(lv.DominantHz-1000) > binWidth {
		t.Errorf("DominantHz = %.1f, want 1000 within %.2f", lv.DominantHz, binWidth)
	}
}

func TestAnalyze_Silence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
	}{
		{"empty", nil},
		{"zeros", make([]int16, 1000)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lv := Analyze(tc.samples, 16000)
			if lv.PeakDBFS != SilenceFloorDBFS || lv.RMSDBFS != SilenceFloorDBFS || lv.DominantHz != 0 {
				t.Errorf("got %+v", lv)
			}
		})
	}
}

func TestAnalyze_FullScale(t *testing.T) {
	t.Parallel()

	samples := []int16{-32768, 32767, -32768, 32767}
	lv := Analyze(samples, 8000)
	if lv.PeakDBFS != 0 {
		t.Errorf("PeakDBFS = %v, want 0", lv.PeakDBFS)
	}
	// Alternating full-scale samples sit at Nyquist.
	if lv.DominantHz != 4000 {
		t.Errorf("DominantHz = %v, want 4000", lv.DominantHz)
	}
}

func TestAnalyze_ShortInput(t *testing.T) {
	t.Parallel()

	lv := Analyze([]int16{1000, -1000}, 16000)
	if lv.DominantHz != 0 {
		t.Errorf("DominantHz = %v for two samples", lv.DominantHz)
	}
	if lv.PeakDBFS >= 0 || lv.PeakDBFS <= SilenceFloorDBFS {
		t.Errorf("PeakDBFS = %v", lv.PeakDBFS)
	}
}
