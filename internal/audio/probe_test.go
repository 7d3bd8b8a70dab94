package audio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/tubedrop/internal/audio/audiotest"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

func TestProbe_MP3(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	audiotest.WriteMP3(t, path, audiotest.Tags{Title: "Song", Artist: "Band", Album: "Record"}, 320, 180000, 4096)

	info, err := NewProber("", logger.Discard()).Probe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, "Band", info.Artist)
	assert.Equal(t, "Record", info.Album)
	assert.Equal(t, "mp3", info.Format)
	assert.Equal(t, 320000, info.Bitrate)
	assert.InDelta(t, 180.0, info.Duration, 0.001)

	st, _ := os.Stat(path)
	assert.Equal(t, st.Size(), info.Size)
}

func TestProbe_MP3EstimatesDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untagged.mp3")
	audiotest.WriteMP3(t, path, audiotest.Tags{}, 128, 0, 15996)

	info, err := NewProber("", logger.Discard()).Probe(context.Background(), path)
	require.NoError(t, err)

	assert.Empty(t, info.Title)
	assert.Equal(t, 128000, info.Bitrate)
	// 16000 bytes at 128kbps
	assert.InDelta(t, 1.0, info.Duration, 0.001)
}

func TestProbe_FLAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Song.FLAC")
	audiotest.WriteFLAC(t, path, audiotest.Tags{Title: "Song", Artist: "Band"}, 3, 3000)

	info, err := NewProber("", logger.Discard()).Probe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, "Band", info.Artist)
	assert.Empty(t, info.Album)
	assert.Equal(t, "flac", info.Format)
	assert.InDelta(t, 3.0, info.Duration, 0.0001)
	assert.Equal(t, averageBitrate(info.Size, 3), info.Bitrate)
}

func TestProbe_Unreadable(t *testing.T) {
	dir := t.TempDir()
	p := NewProber("", logger.Discard())

	_, err := p.Probe(context.Background(), filepath.Join(dir, "missing.mp3"))
	assert.Error(t, err)

	_, err = p.Probe(context.Background(), dir)
	assert.Error(t, err)

	// Garbage content degrades to empty values.
	junk := filepath.Join(dir, "junk.ogg")
	require.NoError(t, os.WriteFile(junk, []byte("not audio at all"), 0644))
	info, err := p.Probe(context.Background(), junk)
	require.NoError(t, err)
	assert.Equal(t, "ogg", info.Format)
	assert.Zero(t, info.Duration)
	assert.Zero(t, info.Bitrate)
}

func TestParseMPEGHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		ok      bool
		bitrate int
		rate    int
	}{
		{"mpeg1 layer3 128k", []byte{0xFF, 0xFB, 0x90, 0x64}, true, 128000, 44100},
		{"mpeg1 layer3 320k 48k", []byte{0xFF, 0xFB, 0xE4, 0x64}, true, 320000, 48000},
		{"mpeg2 layer3 64k", []byte{0xFF, 0xF3, 0x80, 0x64}, true, 64000, 22050},
		{"no sync", []byte{0x00, 0xFB, 0x90, 0x64}, false, 0, 0},
		{"free bitrate", []byte{0xFF, 0xFB, 0x00, 0x64}, false, 0, 0},
		{"reserved version", []byte{0xFF, 0xEB, 0x90, 0x64}, false, 0, 0},
		{"short", []byte{0xFF, 0xFB}, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := parseMPEGHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bitrate, h.Bitrate)
			assert.Equal(t, tt.rate, h.SampleRate)
		})
	}
}

func TestID3v2Size(t *testing.T) {
	hdr := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x02, 0x01}
	assert.Equal(t, int64(10+257), id3v2Size(bytes.NewReader(hdr)))

	hdr[5] = 0x10
	assert.Equal(t, int64(10+257+10), id3v2Size(bytes.NewReader(hdr)))

	assert.Zero(t, id3v2Size(bytes.NewReader([]byte("RIFF0000000000"))))
}
