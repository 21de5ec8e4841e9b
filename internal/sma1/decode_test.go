package sma1

import (
	"math/rand"
	"slices"
	"testing"
)

func mustParse(t *testing.T, buf []byte) *Header {
	t.Helper()
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	return h
}

// Regression fixture: predictor 100, step index 10, codes 0x1, 0x2, 0x0.
//
//	code 1 @ idx 10 (step 19): diff = 2 + 4     = 6   -> 106, idx 9
//	code 2 @ idx 9  (step 17): diff = 2 + 8     = 10  -> 116, idx 8
//	code 0 @ idx 8  (step 16): diff = 2         = 2   -> 118, idx 7
func TestDecode_Fixture(t *testing.T) {
	t.Parallel()

	buf := buildClip(defaultHeader(), block(100, 10, 0x21, 0x00))
	res := Decode(mustParse(t, buf), buf)

	want := []int16{100, 106, 116, 118}
	if !slices.Equal(res.Samples, want) {
		t.Errorf("Samples = %v, want %v", res.Samples, want)
	}
	if !res.Complete {
		t.Error("Complete = false, want true")
	}
}

func TestDecode_NibbleOrder(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 3
	h.totalSamples = 3
	// Low nibble 0 first, then high nibble 7.
	buf := buildClip(h, block(0, 0, 0x70))
	res := Decode(mustParse(t, buf), buf)

	want := []int16{0, 0, 11}
	if !slices.Equal(res.Samples, want) {
		t.Errorf("Samples = %v, want %v", res.Samples, want)
	}
}

func TestDecode_StepIndexClampedFromHeader(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 2
	h.totalSamples = 2
	// Index byte 200 behaves as 88: code 1 adds 32767>>3 + 32767>>2.
	buf := buildClip(h, block(0, 200, 0x01))
	res := Decode(mustParse(t, buf), buf)

	want := []int16{0, 4095 + 8191}
	if !slices.Equal(res.Samples, want) {
		t.Errorf("Samples = %v, want %v", res.Samples, want)
	}
}

func TestDecode_PredictorClamps(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 4
	h.totalSamples = 8
	buf := buildClip(h,
		block(32000, 88, 0x77, 0x07),
		block(-32000, 88, 0xFF, 0x0F),
	)
	res := Decode(mustParse(t, buf), buf)

	want := []int16{32000, 32767, 32767, 32767, -32000, -32768, -32768, -32768}
	if !slices.Equal(res.Samples, want) {
		t.Errorf("Samples = %v, want %v", res.Samples, want)
	}
}

// reference is an independent rendition of the IMA nibble step used to
// cross-check state.step.
func reference(pred, index int, code byte) (int, int) {
	step := int(stepTable[index])
	diff := step >> 3
	if code&1 != 0 {
		diff += step >> 2
	}
	if code&2 != 0 {
		diff += step >> 1
	}
	if code&4 != 0 {
		diff += step
	}
	if code&8 != 0 {
		diff = -diff
	}
	pred = min(max(pred+diff, -32768), 32767)
	index = min(max(index+indexTable[code], 0), 88)
	return pred, index
}

func TestStateStep_Exhaustive(t *testing.T) {
	t.Parallel()

	predictors := []int16{-32768, -32767, -1000, -1, 0, 1, 1000, 32766, 32767}
	for index := 0; index <= maxStepIndex; index++ {
		for code := byte(0); code < 16; code++ {
			for _, p := range predictors {
				s := state{predictor: p, index: index}
				got := s.step(code)

				wantPred, wantIndex := reference(int(p), index, code)
				if int(got) != wantPred || s.index != wantIndex {
					t.Fatalf("index=%d code=%#x pred=%d: got (%d, %d), want (%d, %d)",
						index, code, p, got, s.index, wantPred, wantIndex)
				}
				if s.index < 0 || s.index > maxStepIndex {
					t.Fatalf("index=%d code=%#x: step index %d out of range", index, code, s.index)
				}
			}
		}
	}
}

func TestStateStep_RandomSequencesStayInRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 200; run++ {
		s := state{predictor: int16(rng.Intn(65536) - 32768), index: rng.Intn(maxStepIndex + 1)}
		for i := 0; i < 2000; i++ {
			s.step(byte(rng.Intn(16)))
			if s.index < 0 || s.index > maxStepIndex {
				t.Fatalf("run %d step %d: index %d out of range", run, i, s.index)
			}
		}
	}
}

func TestStepTable(t *testing.T) {
	t.Parallel()

	if stepTable[0] != 7 || stepTable[maxStepIndex] != 32767 {
		t.Fatalf("table ends = %d, %d", stepTable[0], stepTable[maxStepIndex])
	}
	for i := 1; i < len(stepTable); i++ {
		if stepTable[i] <= stepTable[i-1] {
			t.Fatalf("stepTable not increasing at %d", i)
		}
	}
}

func TestDecode_BlocksAreSelfSynchronizing(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 8
	h.totalSamples = 16
	second := block(-500, 20, 0x12, 0x34, 0x56, 0x07)

	clean := buildClip(h, block(10, 5, 0x11, 0x22, 0x33, 0x04), second)
	corrupt := buildClip(h, block(-9999, 88, 0xFF, 0xEE, 0xDD, 0x0C), second)

	a := Decode(mustParse(t, clean), clean)
	b := Decode(mustParse(t, corrupt), corrupt)

	if !slices.Equal(a.Samples[8:], b.Samples[8:]) {
		t.Errorf("second block depends on first: %v vs %v", a.Samples[8:], b.Samples[8:])
	}
	if a.Samples[8] != -500 {
		t.Errorf("second block first sample = %d, want predictor -500", a.Samples[8])
	}
}

func TestDecode_Truncation(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 8
	h.totalSamples = 24
	full := buildClip(h,
		block(1, 0, 0x11, 0x11, 0x11, 0x01),
		block(2, 0, 0x22, 0x22, 0x22, 0x02),
		block(3, 0, 0x33, 0x33, 0x33, 0x03),
	)

	complete := Decode(mustParse(t, full), full)
	if !complete.Complete || len(complete.Samples) != 24 {
		t.Fatalf("full buffer: %d samples, complete=%v", len(complete.Samples), complete.Complete)
	}

	short := full[:len(full)-1]
	res := Decode(mustParse(t, short), short)
	if res.Complete {
		t.Error("Complete = true for truncated buffer")
	}
	if len(res.Samples) != 16 {
		t.Fatalf("got %d samples, want 16", len(res.Samples))
	}
	if !slices.Equal(res.Samples, complete.Samples[:16]) {
		t.Error("truncated prefix differs from full decode")
	}
}

func TestDecode_HeaderOnly(t *testing.T) {
	t.Parallel()

	buf := buildClip(defaultHeader())
	res := Decode(mustParse(t, buf), buf)
	if len(res.Samples) != 0 || res.Complete {
		t.Errorf("got %d samples, complete=%v", len(res.Samples), res.Complete)
	}
}

func TestDecode_RespectsDataBytes(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.totalSamples = 8
	h.dataBytes = 6
	buf := buildClip(h, block(7, 0, 0x00, 0x00), block(9, 0, 0x00, 0x00))

	res := Decode(mustParse(t, buf), buf)
	if len(res.Samples) != 4 || res.Samples[0] != 7 {
		t.Errorf("Samples = %v, want only the first block", res.Samples)
	}
	if res.Complete {
		t.Error("Complete = true, want false")
	}
}

func TestDecode_StopsAtTotalSamples(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.totalSamples = 6
	buf := buildClip(h,
		block(1, 0, 0x00, 0x00),
		block(2, 0, 0x00, 0x00),
		block(3, 0, 0x00, 0x00),
	)
	res := Decode(mustParse(t, buf), buf)

	want := []int16{1, 1, 1, 1, 2, 2}
	if !slices.Equal(res.Samples, want) {
		t.Errorf("Samples = %v, want %v", res.Samples, want)
	}
	if !res.Complete {
		t.Error("Complete = false, want true")
	}
}

func TestDecode_OddBlockSamples(t *testing.T) {
	t.Parallel()

	h := defaultHeader()
	h.blockSamples = 5
	h.totalSamples = 10
	buf := buildClip(h, block(0, 0, 0x00, 0x00), block(50, 0, 0x00, 0x00))
	hdr := mustParse(t, buf)
	if hdr.BlockBytes() != 6 {
		t.Fatalf("BlockBytes = %d, want 6", hdr.BlockBytes())
	}

	res := Decode(hdr, buf)
	if len(res.Samples) != 10 || !res.Complete {
		t.Fatalf("got %d samples, complete=%v", len(res.Samples), res.Complete)
	}
	if res.Samples[5] != 50 {
		t.Errorf("second block starts at %d, want 50", res.Samples[5])
	}
}

func TestDecode_Idempotent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	h := defaultHeader()
	h.blockSamples = 256
	h.totalSamples = 256 * 10
	var blocks [][]byte
	for i := 0; i < 10; i++ {
		codes := make([]byte, 128)
		rng.Read(codes)
		blocks = append(blocks, block(int16(rng.Intn(65536)-32768), byte(rng.Intn(256)), codes...))
	}
	buf := buildClip(h, blocks...)
	hdr := mustParse(t, buf)

	first := Decode(hdr, buf)
	second := Decode(hdr, buf)
	if !slices.Equal(first.Samples, second.Samples) || first.Complete != second.Complete {
		t.Error("decoding the same buffer twice gave different output")
	}
	if len(first.Samples) != 2560 {
		t.Errorf("got %d samples, want 2560", len(first.Samples))
	}
}

func TestDecodeBlock_ShortInputs(t *testing.T) {
	t.Parallel()

	if n := DecodeBlock(nil, make([]int16, 4)); n != 0 {
		t.Errorf("nil block: n = %d", n)
	}
	if n := DecodeBlock(block(1, 0), nil); n != 0 {
		t.Errorf("empty dst: n = %d", n)
	}
	dst := make([]int16, 8)
	if n := DecodeBlock(block(5, 0, 0x00), dst); n != 3 {
		t.Errorf("one code byte: n = %d, want 3", n)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(buildClip(defaultHeader(), block(100, 10, 0x21, 0x00)))
	h := defaultHeader()
	h.blockSamples = 7
	h.totalSamples = 100
	h.dataBytes = 13
	f.Add(buildClip(h, block(-3, 99, 0xAB, 0xCD, 0xEF), block(3, 1, 0x12)))
	f.Add([]byte("SMA1"))

	f.Fuzz(func(t *testing.T, data []byte) {
		hdr, err := ParseHeader(data)
		if err != nil {
			return
		}
		res := Decode(hdr, data)
		if len(res.Samples) > int(hdr.TotalSamples) {
			t.Fatalf("decoded %d samples, header allows %d", len(res.Samples), hdr.TotalSamples)
		}
		if res.Complete != (len(res.Samples) == int(hdr.TotalSamples)) {
			t.Fatalf("Complete=%v with %d/%d samples", res.Complete, len(res.Samples), hdr.TotalSamples)
		}
		blocks := (hdr.DataEnd - int(hdr.HeaderSize)) / hdr.BlockBytes()
		if len(res.Samples) > blocks*int(hdr.BlockSamples) {
			t.Fatalf("decoded %d samples from %d blocks", len(res.Samples), blocks)
		}
	})
}
