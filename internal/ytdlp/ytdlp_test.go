package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[download]  42.1% of 3.50MiB at 1.20MiB/s ETA 00:02", 42.1, true},
		{"[download] 100% of 3.50MiB in 00:03", 100, true},
		{"[download]   0.0% of ~10.00MiB", 0, true},
		{"[download] Destination: /music/song.webm", 0, false},
		{"[ExtractAudio] Destination: song.mp3", 0, false},
		{"[download] %", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseProgress(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseProgress(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCleanFilename(t *testing.T) {
	long := strings.Repeat("word ", 30)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "Unknown"},
		{"invalid chars", `AC/DC: "Back" <In> Black?`, `AC_DC_ _Back_ _In_ Black_`},
		{"whitespace", "  Daft   Punk \t ", "Daft Punk"},
		{"only spaces", "   ", "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanFilename(tt.in); got != tt.want {
				t.Errorf("CleanFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	got := CleanFilename(long)
	if len(got) > 100 {
		t.Errorf("Expected at most 100 chars, got %d", len(got))
	}
	if strings.HasSuffix(got, "wor") || strings.HasSuffix(got, " ") {
		t.Errorf("Expected cut on a word boundary, got %q", got)
	}
}

func TestOutputTemplate(t *testing.T) {
	root := "/music/youtube-music"

	tests := []struct {
		name     string
		req      domain.Request
		tmpl     string
		dir      string
		playlist bool
	}{
		{
			"artist and album",
			domain.SingleSongRequest{Artist: "Band", Album: "LP"},
			"/music/youtube-music/Band/LP/%(title)s.%(ext)s",
			"/music/youtube-music/Band/LP",
			false,
		},
		{
			"artist only",
			domain.SingleSongRequest{Artist: "Band"},
			"/music/youtube-music/Band/%(title)s.%(ext)s",
			"/music/youtube-music/Band",
			false,
		},
		{
			"no tags",
			domain.SingleSongRequest{},
			"/music/youtube-music/%(uploader)s/%(title)s.%(ext)s",
			"/music/youtube-music",
			false,
		},
		{
			"playlist",
			domain.PlaylistRequest{PlaylistName: "Road: Trip"},
			"/music/youtube-music/Road_ Trip/%(uploader)s/%(playlist_title)s/%(playlist_index)02d - %(title)s.%(ext)s",
			"/music/youtube-music/Road_ Trip",
			true,
		},
		{
			"unnamed playlist",
			domain.PlaylistRequest{},
			"/music/youtube-music/Downloaded Playlist/%(uploader)s/%(playlist_title)s/%(playlist_index)02d - %(title)s.%(ext)s",
			"/music/youtube-music/Downloaded Playlist",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, dir, playlist, err := OutputTemplate(root, tt.req)
			if err != nil {
				t.Fatalf("OutputTemplate failed: %v", err)
			}
			if tmpl != tt.tmpl {
				t.Errorf("template = %q, want %q", tmpl, tt.tmpl)
			}
			if dir != tt.dir {
				t.Errorf("dir = %q, want %q", dir, tt.dir)
			}
			if playlist != tt.playlist {
				t.Errorf("playlist = %v, want %v", playlist, tt.playlist)
			}
		})
	}

	if _, _, _, err := OutputTemplate(root, nil); err == nil {
		t.Error("Expected error for nil request")
	}
}

func TestBuildArgs(t *testing.T) {
	c := New(Config{OutputRoot: "/out"}, logger.Discard())

	args, dir, err := c.BuildArgs("https://youtube.com/watch?v=1", domain.SingleSongRequest{Artist: "A"})
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}
	if dir != "/out/A" {
		t.Errorf("dir = %q", dir)
	}
	for _, want := range []string{"--extract-audio", "--no-playlist", "--newline", "--add-metadata", "--embed-thumbnail", "--no-warnings"} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %s in %v", want, args)
		}
	}
	if i := slices.Index(args, "--audio-format"); i < 0 || args[i+1] != "mp3" {
		t.Errorf("expected mp3 audio format in %v", args)
	}
	if i := slices.Index(args, "--audio-quality"); i < 0 || args[i+1] != "320K" {
		t.Errorf("expected 320K quality in %v", args)
	}
	if args[len(args)-1] != "https://youtube.com/watch?v=1" {
		t.Errorf("locator must be last, got %v", args)
	}

	args, _, _ = c.BuildArgs("https://youtube.com/playlist?list=1", domain.PlaylistRequest{PlaylistName: "Mix"})
	if !slices.Contains(args, "--yes-playlist") || slices.Contains(args, "--no-playlist") {
		t.Errorf("expected playlist flags, got %v", args)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 200); got != "short" {
		t.Errorf("Truncate changed short input: %q", got)
	}
	if got := Truncate(strings.Repeat("x", 300), 200); len(got) != 200 {
		t.Errorf("Expected 200 bytes, got %d", len(got))
	}
	if got := Truncate("aé", 2); got != "a" {
		t.Errorf("Expected rune boundary cut, got %q", got)
	}
}

func TestPreflightMissingTool(t *testing.T) {
	c := New(Config{BinaryPath: "/nonexistent/yt-dlp", OutputRoot: t.TempDir()}, logger.Discard())
	if err := c.Preflight(context.Background()); !errors.Is(err, ErrToolMissing) {
		t.Errorf("Expected ErrToolMissing, got %v", err)
	}
}

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPreflightAndDownloadWithFakeTool(t *testing.T) {
	bin := writeFakeTool(t, `
if [ "$1" = "--version" ]; then echo 2024.01.01; exit 0; fi
echo "[download] Destination: song.webm"
echo "[download]  25.0% of 3.00MiB"
echo "[download]  75.5% of 3.00MiB"
echo "[download] 100% of 3.00MiB"
exit 0
`)
	out := t.TempDir()
	c := New(Config{BinaryPath: bin, OutputRoot: out}, logger.Discard())

	if err := c.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}

	var seen []float64
	res, err := c.Download(context.Background(), "ytsearch1:song", domain.SingleSongRequest{}, func(p float64) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !slices.Equal(seen, []float64{25, 75.5, 100}) {
		t.Errorf("Unexpected progress %v", seen)
	}
	if !strings.Contains(res.Stdout, "Destination") {
		t.Errorf("Stdout not captured: %q", res.Stdout)
	}
}

func TestDownloadFailureCarriesStderr(t *testing.T) {
	bin := writeFakeTool(t, `
echo "ERROR: Video unavailable" >&2
exit 1
`)
	c := New(Config{BinaryPath: bin, OutputRoot: t.TempDir()}, logger.Discard())

	_, err := c.Download(context.Background(), "https://youtube.com/watch?v=gone", domain.SingleSongRequest{}, nil)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "Video unavailable") {
		t.Errorf("Expected stderr in error, got %v", err)
	}
}

func TestDownloadCancelled(t *testing.T) {
	bin := writeFakeTool(t, `
sleep 30
`)
	c := New(Config{BinaryPath: bin, OutputRoot: t.TempDir()}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Download(ctx, "x", domain.SingleSongRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
