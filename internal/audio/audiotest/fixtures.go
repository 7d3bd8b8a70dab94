// Package audiotest writes small synthetic audio files for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"os"
	"strconv"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// Tags are the fields written into fixtures. Empty fields are omitted.
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// mp3BitrateIndex maps kbps to the MPEG-1 Layer III bitrate index.
var mp3BitrateIndex = map[int]byte{
	32: 1, 40: 2, 48: 3, 56: 4, 64: 5, 80: 6, 96: 7, 112: 8,
	128: 9, 160: 10, 192: 11, 224: 12, 256: 13, 320: 14,
}

// WriteMP3 writes an ID3v2 tag followed by one MPEG-1 Layer III frame header
// at kbps and audioBytes of zero padding. durationMS, when positive, is
// stored in TLEN.
func WriteMP3(t testing.TB, path string, tags Tags, kbps int, durationMS int, audioBytes int) {
	t.Helper()

	idx, ok := mp3BitrateIndex[kbps]
	if !ok {
		t.Fatalf("unsupported MP3 bitrate %d", kbps)
	}

	tag := id3v2.NewEmptyTag()
	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if durationMS > 0 {
		tag.AddTextFrame("TLEN", tag.DefaultEncoding(), strconv.Itoa(durationMS))
	}

	var buf bytes.Buffer
	if tags != (Tags{}) || durationMS > 0 {
		if _, err := tag.WriteTo(&buf); err != nil {
			t.Fatalf("writing ID3 tag: %v", err)
		}
	}
	// MPEG-1, Layer III, no CRC, 44.1kHz, joint stereo.
	buf.Write([]byte{0xFF, 0xFB, idx<<4 | 0x00, 0x64})
	buf.Write(make([]byte, audioBytes))

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// WriteFLAC writes a FLAC file with a STREAMINFO block describing seconds of
// 44.1kHz stereo audio, optional Vorbis comments and audioBytes of filler
// behind a frame sync code.
func WriteFLAC(t testing.TB, path string, tags Tags, seconds int, audioBytes int) {
	t.Helper()

	const sampleRate = 44100
	si := make([]byte, 34)
	binary.BigEndian.PutUint16(si[0:2], 4096)
	binary.BigEndian.PutUint16(si[2:4], 4096)
	packed := uint64(sampleRate)<<44 | uint64(2-1)<<41 | uint64(16-1)<<36 | uint64(sampleRate*seconds)
	binary.BigEndian.PutUint64(si[10:18], packed)

	file := &flac.File{
		Meta: []*flac.MetaDataBlock{
			{Type: flac.StreamInfo, Data: si},
		},
		Frames: flacFrames(audioBytes),
	}

	if tags != (Tags{}) {
		cmt := flacvorbis.New()
		if tags.Title != "" {
			_ = cmt.Add(flacvorbis.FIELD_TITLE, tags.Title)
		}
		if tags.Artist != "" {
			_ = cmt.Add(flacvorbis.FIELD_ARTIST, tags.Artist)
		}
		if tags.Album != "" {
			_ = cmt.Add(flacvorbis.FIELD_ALBUM, tags.Album)
		}
		block := cmt.Marshal()
		file.Meta = append(file.Meta, &block)
	}

	if err := file.Save(path); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func flacFrames(n int) []byte {
	if n < 2 {
		n = 2
	}
	b := make([]byte, n)
	b[0], b[1] = 0xFF, 0xF8
	return b
}
