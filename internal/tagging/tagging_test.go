package tagging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/tubedrop/internal/audio"
	"github.com/cesargomez89/tubedrop/internal/audio/audiotest"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

func probe(t *testing.T, path string) audio.Info {
	t.Helper()
	info, err := audio.NewProber("", logger.Discard()).Probe(context.Background(), path)
	require.NoError(t, err)
	return info
}

func TestFillFile_MP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	audiotest.WriteMP3(t, path, audiotest.Tags{Title: "Song", Artist: "Kept"}, 128, 1000, 2000)

	changed, err := FillFile(path, Tags{Artist: "Ignored", Album: "Filled"})
	require.NoError(t, err)
	assert.True(t, changed)

	info := probe(t, path)
	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, "Kept", info.Artist)
	assert.Equal(t, "Filled", info.Album)

	changed, err = FillFile(path, Tags{Artist: "X", Album: "Y"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFillFile_FLAC(t *testing.T) {
	dir := t.TempDir()

	tagged := filepath.Join(dir, "tagged.flac")
	audiotest.WriteFLAC(t, tagged, audiotest.Tags{Title: "Song"}, 2, 512)
	changed, err := FillFile(tagged, Tags{Artist: "Band", Album: "Record"})
	require.NoError(t, err)
	assert.True(t, changed)

	info := probe(t, tagged)
	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, "Band", info.Artist)
	assert.Equal(t, "Record", info.Album)
	assert.InDelta(t, 2.0, info.Duration, 0.0001)

	bare := filepath.Join(dir, "bare.flac")
	audiotest.WriteFLAC(t, bare, audiotest.Tags{}, 1, 512)
	changed, err = FillFile(bare, Tags{Album: "Record"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Record", probe(t, bare).Album)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestFillFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.opus")
	require.NoError(t, os.WriteFile(path, []byte("opus"), 0644))

	changed, err := FillFile(path, Tags{Artist: "Band"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFillMissing(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "Band", "Record")
	require.NoError(t, os.MkdirAll(sub, 0755))

	fresh := filepath.Join(sub, "fresh.mp3")
	old := filepath.Join(sub, "old.mp3")
	broken := filepath.Join(sub, "broken.flac")
	audiotest.WriteMP3(t, fresh, audiotest.Tags{Title: "Fresh"}, 128, 1000, 100)
	audiotest.WriteMP3(t, old, audiotest.Tags{Title: "Old"}, 128, 1000, 100)
	require.NoError(t, os.WriteFile(broken, []byte("not flac"), 0644))

	since := time.Now().Add(-time.Minute)
	past := since.Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	tagger := New(logger.Discard())
	n, err := tagger.FillMissing(context.Background(), dir, Tags{Artist: "Band", Album: "Record"}, since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "Band", probe(t, fresh).Artist)
	assert.Empty(t, probe(t, old).Artist)

	n, err = tagger.FillMissing(context.Background(), dir, Tags{}, since)
	require.NoError(t, err)
	assert.Zero(t, n)
}
