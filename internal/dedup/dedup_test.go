package dedup

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/tubedrop/internal/audio"
	"github.com/cesargomez89/tubedrop/internal/audio/audiotest"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/store"
)

type countingProber struct {
	inner *audio.Prober
	calls atomic.Int32
}

func (p *countingProber) Probe(ctx context.Context, path string) (audio.Info, error) {
	p.calls.Add(1)
	return p.inner.Probe(ctx, path)
}

type fixture struct {
	dir     string
	lib     string
	staging string
	db      *store.DB
	prober  *countingProber
	dedup   *Deduplicator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := store.NewSQLiteDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		dir:     dir,
		lib:     filepath.Join(dir, "library"),
		staging: filepath.Join(dir, "staging"),
		db:      db,
		prober:  &countingProber{inner: audio.NewProber("", logger.Discard())},
	}
	require.NoError(t, os.MkdirAll(f.lib, 0755))
	require.NoError(t, os.MkdirAll(f.staging, 0755))
	f.dedup = New(db, f.prober, Config{LibraryDir: f.lib}, logger.Discard())
	return f
}

func TestHash_Normalizes(t *testing.T) {
	assert.Equal(t, Hash("Song", "Band", 180), Hash("  song ", "BAND", 180))
	assert.NotEqual(t, Hash("Song", "Band", 180), Hash("Song", "Band", 181))
	assert.NotEqual(t, Hash("Song", "Band", 180), Hash("Song 2", "Band", 180))
	assert.NotEqual(t, Hash("Song", "Band", 180), Hash("Song", "Band 2", 180))
	assert.Len(t, Hash("", "", 0), 32)
}

func TestFindDuplicates_LibraryCopyWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tags := audiotest.Tags{Title: "Song", Artist: "Band", Album: "Record"}
	best := filepath.Join(f.lib, "Song.mp3")
	dupe := filepath.Join(f.staging, "Song (copy).mp3")
	audiotest.WriteMP3(t, best, tags, 320, 200000, 8000)
	audiotest.WriteMP3(t, dupe, tags, 128, 200000, 4000)

	groups, err := f.dedup.FindDuplicates(ctx, f.lib, f.staging)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Song - Band", groups[0].Key)
	assert.Equal(t, []string{best, dupe}, groups[0].Files)

	assert.Equal(t, best, f.dedup.SuggestBestVersion(ctx, groups[0].Files))
	assert.Equal(t, best, f.dedup.SuggestBestVersion(ctx, []string{dupe, best}))
}

func TestFindDuplicates_Grouping(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := filepath.Join(f.lib, "a.mp3")
	b := filepath.Join(f.lib, "nested", "b.mp3")
	c := filepath.Join(f.staging, "c.flac")
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0755))

	audiotest.WriteMP3(t, a, audiotest.Tags{Title: "Song", Artist: "Band"}, 128, 60000, 100)
	audiotest.WriteMP3(t, b, audiotest.Tags{Title: " SONG", Artist: "band "}, 320, 60400, 100)
	audiotest.WriteFLAC(t, c, audiotest.Tags{Title: "Song", Artist: "Band"}, 60, 100)

	// Different duration, title or artist: never grouped with the above.
	audiotest.WriteMP3(t, filepath.Join(f.lib, "long.mp3"), audiotest.Tags{Title: "Song", Artist: "Band"}, 128, 61000, 100)
	audiotest.WriteMP3(t, filepath.Join(f.lib, "other.mp3"), audiotest.Tags{Title: "Other", Artist: "Band"}, 128, 60000, 100)
	audiotest.WriteMP3(t, filepath.Join(f.lib, "cover.mp3"), audiotest.Tags{Title: "Song", Artist: "Cover Band"}, 128, 60000, 100)

	// Not audio.
	require.NoError(t, os.WriteFile(filepath.Join(f.lib, "notes.txt"), []byte("hi"), 0644))

	groups, err := f.dedup.FindDuplicates(ctx, f.lib, f.staging)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, Hash("song", "band", 60), groups[0].Hash)
	assert.ElementsMatch(t, []string{a, b, c}, groups[0].Files)
}

func TestFindDuplicates_UntaggedFilesCollide(t *testing.T) {
	f := setup(t)

	x := filepath.Join(f.lib, "x.mp3")
	y := filepath.Join(f.lib, "y.mp3")
	audiotest.WriteMP3(t, x, audiotest.Tags{}, 128, 0, 15996)
	audiotest.WriteMP3(t, y, audiotest.Tags{}, 128, 0, 15996)

	groups, err := f.dedup.FindDuplicates(context.Background(), f.lib)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, " - ", groups[0].Key)
	assert.Len(t, groups[0].Files, 2)
}

func TestFindDuplicates_OverlappingAndMissingDirs(t *testing.T) {
	f := setup(t)

	tags := audiotest.Tags{Title: "Song", Artist: "Band"}
	audiotest.WriteMP3(t, filepath.Join(f.lib, "a.mp3"), tags, 128, 1000, 10)
	audiotest.WriteMP3(t, filepath.Join(f.lib, "b.mp3"), tags, 128, 1000, 10)

	groups, err := f.dedup.FindDuplicates(context.Background(), f.lib, f.lib, filepath.Join(f.dir, "missing"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Files, 2)
}

func TestFindDuplicates_SortedByKey(t *testing.T) {
	f := setup(t)

	for _, title := range []string{"Zebra", "Apple"} {
		for _, n := range []string{"1", "2"} {
			path := filepath.Join(f.lib, title+n+".mp3")
			audiotest.WriteMP3(t, path, audiotest.Tags{Title: title, Artist: "Band"}, 128, 1000, 10)
		}
	}

	groups, err := f.dedup.FindDuplicates(context.Background(), f.lib)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Apple - Band", groups[0].Key)
	assert.Equal(t, "Zebra - Band", groups[1].Key)
}

func TestGetAudioFingerprint_Cache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	path := filepath.Join(f.lib, "song.mp3")
	audiotest.WriteMP3(t, path, audiotest.Tags{Title: "Song", Artist: "Band"}, 320, 90500, 100)

	fp, err := f.dedup.GetAudioFingerprint(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 90, fp.DurationSeconds)
	assert.Equal(t, 320000, fp.Bitrate)
	assert.Equal(t, "mp3", fp.Format)
	assert.Equal(t, Hash("Song", "Band", 90), fp.Hash)

	again, err := f.dedup.GetAudioFingerprint(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, fp, again)
	assert.Equal(t, int32(1), f.prober.calls.Load())

	// A changed mtime invalidates the entry.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = f.dedup.GetAudioFingerprint(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.prober.calls.Load())

	n, err := f.dedup.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.dedup.GetAudioFingerprint(ctx, filepath.Join(f.lib, "missing.mp3"))
	assert.Error(t, err)
}

func TestSuggestBestVersion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tags := audiotest.Tags{Title: "Song", Artist: "Band"}

	first := filepath.Join(f.staging, "first.mp3")
	second := filepath.Join(f.staging, "second.mp3")
	flac := filepath.Join(f.staging, "song.flac")
	audiotest.WriteMP3(t, first, tags, 128, 1000, 100)
	audiotest.WriteMP3(t, second, tags, 128, 1000, 100)

	// Equal scores: the first candidate wins, every time.
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, f.dedup.SuggestBestVersion(ctx, []string{first, second}))
		assert.Equal(t, second, f.dedup.SuggestBestVersion(ctx, []string{second, first}))
	}

	audiotest.WriteFLAC(t, flac, tags, 1, 200000)
	assert.Equal(t, flac, f.dedup.SuggestBestVersion(ctx, []string{first, flac}))

	missing := filepath.Join(f.staging, "gone.mp3")
	assert.Equal(t, first, f.dedup.SuggestBestVersion(ctx, []string{missing, first}))
	assert.Equal(t, missing, f.dedup.SuggestBestVersion(ctx, []string{missing}))
	assert.Empty(t, f.dedup.SuggestBestVersion(ctx, nil))
}

func TestScore(t *testing.T) {
	d := New(nil, nil, Config{LibraryDir: "/music/library"}, logger.Discard())

	score := d.Score(&domain.Fingerprint{
		FilePath: "/music/library/a/song.flac",
		Format:   "flac",
		Bitrate:  900000,
		FileSize: 2 * 1024 * 1024,
	})
	assert.InDelta(t, 900+30+10+2, score, 0.0001)

	score = d.Score(&domain.Fingerprint{
		FilePath: "/music/library-old/song.wav",
		Format:   "wav",
		Bitrate:  1000,
	})
	assert.InDelta(t, 1, score, 0.0001)
}

func TestRemoveDuplicates_DryRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tags := audiotest.Tags{Title: "Song", Artist: "Band"}

	best := filepath.Join(f.lib, "best.mp3")
	dup1 := filepath.Join(f.staging, "dup1.mp3")
	dup2 := filepath.Join(f.staging, "dup2.mp3")
	audiotest.WriteMP3(t, best, tags, 320, 1000, 100)
	audiotest.WriteMP3(t, dup1, tags, 128, 1000, 100)
	audiotest.WriteMP3(t, dup2, tags, 128, 1000, 100)

	groups, err := f.dedup.FindDuplicates(ctx, f.lib, f.staging)
	require.NoError(t, err)

	report, err := f.dedup.RemoveDuplicates(ctx, groups, false)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Removed)
	assert.Equal(t, []string{best}, report.Kept)
	assert.Empty(t, report.Deleted)

	for _, p := range []string{best, dup1, dup2} {
		assert.FileExists(t, p)
	}
}

func TestRemoveDuplicates_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tags := audiotest.Tags{Title: "Song", Artist: "Band"}

	best := filepath.Join(f.lib, "best.mp3")
	dup := filepath.Join(f.staging, "dup.mp3")
	gone := filepath.Join(f.staging, "gone.mp3")
	audiotest.WriteMP3(t, best, tags, 320, 1000, 100)
	audiotest.WriteMP3(t, dup, tags, 128, 1000, 100)

	groups := []domain.DuplicateGroup{
		{Key: "Song - Band", Hash: Hash("Song", "Band", 1), Files: []string{dup, gone, best}},
		{Key: "single", Hash: "x", Files: []string{best}},
	}

	report, err := f.dedup.RemoveDuplicates(ctx, groups, true)
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, []string{dup}, report.Deleted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, gone, report.Failures[0].Path)

	assert.FileExists(t, best)
	assert.NoFileExists(t, dup)
}

func TestRemoveDuplicates_RejectsForeignMembers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tags := audiotest.Tags{Title: "Song", Artist: "Band"}

	best := filepath.Join(f.lib, "best.mp3")
	dup := filepath.Join(f.staging, "dup.mp3")
	other := filepath.Join(f.lib, "other.flac")
	notes := filepath.Join(f.dir, "notes.txt")
	audiotest.WriteMP3(t, best, tags, 320, 1000, 100)
	audiotest.WriteMP3(t, dup, tags, 128, 1000, 100)
	// Scores above best but is a different recording.
	audiotest.WriteFLAC(t, other, audiotest.Tags{Title: "Other", Artist: "Band"}, 1, 200000)
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0644))

	groups := []domain.DuplicateGroup{
		{Key: "Song - Band", Hash: Hash("Song", "Band", 1), Files: []string{other, dup, notes, best}},
	}

	report, err := f.dedup.RemoveDuplicates(ctx, groups, true)
	require.NoError(t, err)
	assert.Equal(t, []string{best}, report.Kept)
	assert.Equal(t, []string{dup}, report.Deleted)
	assert.Equal(t, 1, report.Removed)

	failed := make(map[string]string)
	for _, fail := range report.Failures {
		failed[fail.Path] = fail.Error
	}
	assert.Equal(t, map[string]string{
		other: "fingerprint does not match group",
		notes: "not an audio file",
	}, failed)

	assert.FileExists(t, best)
	assert.FileExists(t, other)
	assert.FileExists(t, notes)
	assert.NoFileExists(t, dup)
}

func TestRemoveDuplicates_NoGroupHashDeletesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tags := audiotest.Tags{Title: "Song", Artist: "Band"}

	a := filepath.Join(f.lib, "a.mp3")
	b := filepath.Join(f.staging, "b.mp3")
	audiotest.WriteMP3(t, a, tags, 320, 1000, 100)
	audiotest.WriteMP3(t, b, tags, 128, 1000, 100)

	report, err := f.dedup.RemoveDuplicates(ctx, []domain.DuplicateGroup{{Key: "Song - Band", Files: []string{a, b}}}, true)
	require.NoError(t, err)
	assert.Empty(t, report.Kept)
	assert.Empty(t, report.Deleted)
	assert.Len(t, report.Failures, 2)
	assert.FileExists(t, a)
	assert.FileExists(t, b)
}

func TestDuplicateStats(t *testing.T) {
	f := setup(t)
	a := filepath.Join(f.lib, "a.mp3")
	b := filepath.Join(f.lib, "b.mp3")
	c := filepath.Join(f.lib, "c.mp3")
	require.NoError(t, os.WriteFile(a, make([]byte, 3000), 0644))
	require.NoError(t, os.WriteFile(b, make([]byte, 1000), 0644))
	require.NoError(t, os.WriteFile(c, make([]byte, 500), 0644))

	stats := f.dedup.DuplicateStats([]domain.DuplicateGroup{
		{Key: "k", Files: []string{b, a, c}},
		{Key: "lonely", Files: []string{a}},
	})
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 2, stats.DuplicateFiles)
	assert.Equal(t, int64(1500), stats.WastedBytes)
	assert.InDelta(t, 0.0, stats.WastedMB, 0.01)
}
