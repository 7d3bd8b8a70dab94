package audio

import (
	"io"
)

// mpegHeader is the part of an MPEG audio frame header needed for bitrate.
type mpegHeader struct {
	Bitrate    int // bits per second
	SampleRate int
}

// bitrate tables in kbps, indexed [version group][layer][index].
// Version group 0 is MPEG-1, 1 is MPEG-2 and 2.5.
var mpegBitrates = [2][3][16]int{
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0}, // Layer I
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},    // Layer II
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},     // Layer III
	},
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var mpegSampleRates = map[byte][3]int{
	3: {44100, 48000, 32000}, // MPEG-1
	2: {22050, 24000, 16000}, // MPEG-2
	0: {11025, 12000, 8000},  // MPEG-2.5
}

// maxFrameSearch bounds how far past the ID3 tag we look for a frame sync.
const maxFrameSearch = 64 * 1024

// parseMPEGHeader decodes a 4-byte frame header.
func parseMPEGHeader(b []byte) (mpegHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mpegHeader{}, false
	}

	version := (b[1] >> 3) & 0x03
	layerBits := (b[1] >> 1) & 0x03
	bitrateIdx := b[2] >> 4
	srIdx := (b[2] >> 2) & 0x03

	if version == 1 || layerBits == 0 || bitrateIdx == 0 || bitrateIdx == 15 || srIdx == 3 {
		return mpegHeader{}, false
	}

	group := 1
	if version == 3 {
		group = 0
	}
	layer := 3 - int(layerBits) // 0 = Layer I, 2 = Layer III

	return mpegHeader{
		Bitrate:    mpegBitrates[group][layer][bitrateIdx] * 1000,
		SampleRate: mpegSampleRates[version][srIdx],
	}, true
}

// id3v2Size returns the total size of a leading ID3v2 tag, or 0.
func id3v2Size(r io.ReaderAt) int64 {
	hdr := make([]byte, 10)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return 0
	}
	if string(hdr[:3]) != "ID3" {
		return 0
	}
	size := int64(hdr[6]&0x7F)<<21 | int64(hdr[7]&0x7F)<<14 | int64(hdr[8]&0x7F)<<7 | int64(hdr[9]&0x7F)
	size += 10
	if hdr[5]&0x10 != 0 {
		size += 10 // footer
	}
	return size
}

// findMPEGHeader scans for the first frame header after offset.
func findMPEGHeader(r io.ReaderAt, offset int64) (mpegHeader, bool) {
	buf := make([]byte, maxFrameSearch)
	n, err := r.ReadAt(buf, offset)
	if n < 4 && err != nil {
		return mpegHeader{}, false
	}
	buf = buf[:n]

	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] != 0xFF {
			continue
		}
		if h, ok := parseMPEGHeader(buf[i : i+4]); ok {
			return h, true
		}
	}
	return mpegHeader{}, false
}
