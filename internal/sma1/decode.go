package sma1

import "encoding/binary"

const maxStepIndex = 88

var stepTable = [maxStepIndex + 1]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var indexTable = [16]int{
	-1, -1, -1, -1, 2, 4, 6, 8, // +0 - +7
	-1, -1, -1, -1, 2, 4, 6, 8, // -0 - -7
}

// state is the quantizer state of a single block. It is re-seeded from every
// block header and never carried across blocks.
type state struct {
	predictor int16
	index     int
}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i > maxStepIndex {
		return maxStepIndex
	}
	return i
}

// step decodes one 4-bit code and returns the reconstructed sample.
func (s *state) step(code byte) int16 {
	step := stepTable[s.index]

	diff := step >> 3
	if code&4 != 0 {
		diff += step
	}
	if code&2 != 0 {
		diff += step >> 1
	}
	if code&1 != 0 {
		diff += step >> 2
	}

	pred := int32(s.predictor)
	if code&8 != 0 {
		pred -= diff
	} else {
		pred += diff
	}
	if pred > 32767 {
		pred = 32767
	} else if pred < -32768 {
		pred = -32768
	}

	s.predictor = int16(pred)
	s.index = clampIndex(s.index + indexTable[code&0x0F])
	return s.predictor
}

// Result is the output of Decode. Complete is false when the buffer ended
// before TotalSamples samples could be reconstructed; Samples then holds the
// longest decodable prefix.
type Result struct {
	Samples  []int16
	Complete bool
}

// DecodeBlock decodes one encoded block into dst, writing at most
// len(dst) samples, and returns the number written. block must be at least
// 4 + len(dst)/2 bytes long.
func DecodeBlock(block []byte, dst []int16) int {
	if len(dst) == 0 || len(block) < blockHeaderSize {
		return 0
	}

	s := state{
		predictor: int16(binary.LittleEndian.Uint16(block[0:2])),
		index:     clampIndex(int(block[2])),
	}
	dst[0] = s.predictor

	codes := block[blockHeaderSize:]
	n := 1
	for i := 0; n < len(dst) && i < len(codes); i++ {
		dst[n] = s.step(codes[i] & 0x0F)
		n++
		if n == len(dst) {
			break
		}
		dst[n] = s.step(codes[i] >> 4)
		n++
	}
	return n
}

// Decode reconstructs the PCM samples of buf, which must be the buffer h was
// parsed from. It never reads past h.DataEnd. A trailing partial block is
// ignored and reported through Result.Complete.
func Decode(h *Header, buf []byte) Result {
	total := int(h.TotalSamples)
	blockSamples := int(h.BlockSamples)
	blockBytes := h.BlockBytes()

	end := h.DataEnd
	if end > len(buf) {
		end = len(buf)
	}
	start := int(h.HeaderSize)

	// Size the output by what the buffer can hold, not by what the header claims.
	capacity := total
	if start <= end {
		if fit := (end - start) / blockBytes * blockSamples; fit < capacity {
			capacity = fit
		}
	} else {
		capacity = 0
	}
	samples := make([]int16, capacity)

	produced := 0
	for pos := start; produced < total && pos+blockBytes <= end; pos += blockBytes {
		want := blockSamples
		if rest := total - produced; rest < want {
			want = rest
		}
		produced += DecodeBlock(buf[pos:pos+blockBytes], samples[produced:produced+want])
	}

	return Result{
		Samples:  samples[:produced],
		Complete: produced == total,
	}
}
