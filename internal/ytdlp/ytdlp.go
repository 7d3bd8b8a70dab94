// Package ytdlp drives the yt-dlp command line tool.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/domain"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

var (
	ErrToolMissing        = errors.New("yt-dlp not available")
	ErrOutputNotWritable  = errors.New("output directory not writable")
	errUnsupportedRequest = errors.New("unsupported request type")
)

type Config struct {
	BinaryPath   string
	OutputRoot   string
	AudioFormat  string
	AudioQuality string
}

// Result holds the captured output of a successful run.
type Result struct {
	Stdout    string
	Stderr    string
	OutputDir string
}

// ProgressFunc receives the percentage reported on each yt-dlp progress line.
type ProgressFunc func(percent float64)

type Client struct {
	cfg    Config
	logger *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = constants.DefaultYtDlpPath
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = constants.DefaultDownloadsDir
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = constants.DefaultAudioFormat
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = constants.DefaultAudioQuality
	}
	return &Client{cfg: cfg, logger: log.WithComponent("ytdlp")}
}

// Preflight checks that the tool answers --version and that the output root
// can be written to.
func (c *Client) Preflight(ctx context.Context) error {
	if _, err := exec.LookPath(c.cfg.BinaryPath); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	vctx, cancel := context.WithTimeout(ctx, constants.PreflightTimeout)
	defer cancel()
	out, err := exec.CommandContext(vctx, c.cfg.BinaryPath, "--version").Output()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	c.logger.Debug("yt-dlp available", "version", strings.TrimSpace(string(out)))

	if err := os.MkdirAll(c.cfg.OutputRoot, constants.DirPermissions); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	probe, err := os.CreateTemp(c.cfg.OutputRoot, ".tubedrop-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// Download fetches locator according to req. The process is killed when ctx
// is done.
func (c *Client) Download(ctx context.Context, locator string, req domain.Request, onProgress ProgressFunc) (*Result, error) {
	args, outDir, err := c.BuildArgs(locator, req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	c.logger.Info("Starting yt-dlp", "locator", locator, "output_dir", outDir)
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	var stdout strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if pct, ok := ParseProgress(line); ok && onProgress != nil {
			onProgress(pct)
		}
	}
	// Drain whatever the scanner left so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdoutPipe)

	waitErr := cmd.Wait()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), OutputDir: outDir}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = waitErr.Error()
		}
		return res, fmt.Errorf("yt-dlp failed: %s", Truncate(msg, constants.MaxErrorLength))
	}
	return res, nil
}

// BuildArgs returns the yt-dlp argument list and the directory files land in.
func (c *Client) BuildArgs(locator string, req domain.Request) ([]string, string, error) {
	tmpl, dir, playlist, err := OutputTemplate(c.cfg.OutputRoot, req)
	if err != nil {
		return nil, "", err
	}

	args := []string{
		"--extract-audio",
		"--audio-format", c.cfg.AudioFormat,
		"--audio-quality", c.cfg.AudioQuality,
		"--embed-thumbnail",
		"--add-metadata",
		"--newline",
	}
	if playlist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, "--output", tmpl, "--no-warnings", locator)
	return args, dir, nil
}

// OutputTemplate returns the yt-dlp output template for req, the directory
// it resolves under, and whether req is a playlist.
func OutputTemplate(root string, req domain.Request) (string, string, bool, error) {
	switch r := req.(type) {
	case domain.SingleSongRequest:
		switch {
		case r.Artist != "" && r.Album != "":
			dir := filepath.Join(root, CleanFilename(r.Artist), CleanFilename(r.Album))
			return filepath.Join(dir, "%(title)s.%(ext)s"), dir, false, nil
		case r.Artist != "":
			dir := filepath.Join(root, CleanFilename(r.Artist))
			return filepath.Join(dir, "%(title)s.%(ext)s"), dir, false, nil
		default:
			return filepath.Join(root, "%(uploader)s", "%(title)s.%(ext)s"), root, false, nil
		}
	case domain.PlaylistRequest:
		name := r.PlaylistName
		if name == "" {
			name = constants.DefaultPlaylistDir
		}
		dir := filepath.Join(root, CleanFilename(name))
		return filepath.Join(dir, "%(uploader)s", "%(playlist_title)s", "%(playlist_index)02d - %(title)s.%(ext)s"), dir, true, nil
	default:
		return "", "", false, fmt.Errorf("%w: %T", errUnsupportedRequest, req)
	}
}

// CleanFilename makes name safe as a single path component.
func CleanFilename(name string) string {
	if name == "" {
		return constants.UnknownName
	}

	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")

	if runes := []rune(name); len(runes) > constants.MaxFilenameLength {
		cut := string(runes[:constants.MaxFilenameLength])
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		name = cut
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return constants.UnknownName
	}
	return name
}

// ParseProgress extracts the percentage from a "[download]  42.1% of ..."
// line.
func ParseProgress(line string) (float64, bool) {
	if !strings.Contains(line, "[download]") {
		return 0, false
	}
	pct := strings.IndexByte(line, '%')
	if pct <= 0 {
		return 0, false
	}

	start := pct
	for start > 0 {
		ch := line[start-1]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			start--
			continue
		}
		break
	}
	if start == pct {
		return 0, false
	}

	v, err := strconv.ParseFloat(line[start:pct], 64)
	if err != nil {
		return 0, false
	}
	if v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
