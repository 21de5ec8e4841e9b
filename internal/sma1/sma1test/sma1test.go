// Package sma1test builds SMA1 buffers for tests in other packages.
package sma1test

import "encoding/binary"

// Header is the fixed part of an SMA1 header.
type Header struct {
	HeaderSize   uint32
	SampleRate   uint32
	BlockSamples uint32
	TotalSamples uint32
	StartEpoch   uint32
	DataBytes    uint32
}

// Block returns one encoded block.
func Block(predictor int16, index byte, codes ...byte) []byte {
	b := make([]byte, 4, 4+len(codes))
	binary.LittleEndian.PutUint16(b[0:2], uint16(predictor))
	b[2] = index
	return append(b, codes...)
}

// Build serialises h and appends blocks. The header area is padded to
// h.HeaderSize, or to 64 bytes when HeaderSize is smaller.
func Build(h Header, blocks ...[]byte) []byte {
	size := int(h.HeaderSize)
	if size < 64 {
		size = 64
	}
	buf := make([]byte, size)
	copy(buf[0:4], "SMA1")
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.SampleRate)
	binary.LittleEndian.PutUint32(buf[12:16], h.BlockSamples)
	binary.LittleEndian.PutUint32(buf[16:20], h.TotalSamples)
	binary.LittleEndian.PutUint32(buf[20:24], h.StartEpoch)
	binary.LittleEndian.PutUint32(buf[24:28], h.DataBytes)
	for _, b := range blocks {
		buf = append(buf, b...)
	}
	return buf
}

// Fixture returns the four-sample clip whose decode is 100, 106, 116, 118.
func Fixture() []byte {
	return Build(Header{
		HeaderSize:   64,
		SampleRate:   16000,
		BlockSamples: 4,
		TotalSamples: 4,
		StartEpoch:   1_700_000_000,
	}, Block(100, 10, 0x21, 0x00))
}

// Silence returns a complete clip of n blocks, each holding blockSamples
// copies of its block number.
func Silence(sampleRate, blockSamples uint32, n int) []byte {
	var blocks [][]byte
	for i := 0; i < n; i++ {
		blocks = append(blocks, Block(int16(i), 0, make([]byte, blockSamples/2)...))
	}
	return Build(Header{
		HeaderSize:   64,
		SampleRate:   sampleRate,
		BlockSamples: blockSamples,
		TotalSamples: blockSamples * uint32(n),
	}, blocks...)
}
