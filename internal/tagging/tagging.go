// Package tagging fills in artist and album tags that yt-dlp left empty.
package tagging

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

// Tags are the values written when a file lacks them.
type Tags struct {
	Artist string
	Album  string
}

func (t Tags) empty() bool {
	return t.Artist == "" && t.Album == ""
}

type Tagger struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Tagger {
	return &Tagger{logger: log.WithComponent("tagging")}
}

// FillMissing walks dir and fills tags on MP3 and FLAC files modified at or
// after since. Existing values are never overwritten. It returns the number of
// files changed; per-file failures are logged and skipped.
func (t *Tagger) FillMissing(ctx context.Context, dir string, tags Tags, since time.Time) (int, error) {
	if tags.empty() || dir == "" {
		return 0, nil
	}

	changed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			t.logger.WithFile(path).Warn("Cannot read path", "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.ModTime().Before(since) {
			return nil
		}

		ok, err := FillFile(path, tags)
		if err != nil {
			t.logger.WithFile(path).Warn("Failed to fill tags", "error", err)
			return nil
		}
		if ok {
			changed++
			t.logger.Debug("Filled missing tags", "file_path", path)
		}
		return nil
	})
	return changed, err
}

// FillFile fills missing tags on a single file. Unsupported formats are left
// alone and report false.
func FillFile(path string, tags Tags) (bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtMP3:
		return fillMP3(path, tags)
	case constants.ExtFLAC:
		return fillFLAC(path, tags)
	default:
		return false, nil
	}
}

func fillMP3(path string, tags Tags) (bool, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return false, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	changed := false
	if tags.Artist != "" && strings.TrimSpace(tag.Artist()) == "" {
		tag.SetArtist(tags.Artist)
		changed = true
	}
	if tags.Album != "" && strings.TrimSpace(tag.Album()) == "" {
		tag.SetAlbum(tags.Album)
		changed = true
	}
	if !changed {
		return false, nil
	}

	tag.SetVersion(4)
	if err := tag.Save(); err != nil {
		return false, fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return true, nil
}

func fillFLAC(path string, tags Tags) (bool, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	idx := -1
	cmt := flacvorbis.New()
	for i, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		parsed, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			return false, fmt.Errorf("failed to parse vorbis comment: %w", err)
		}
		idx, cmt = i, parsed
		break
	}

	changed := false
	add := func(field, value string) error {
		if value == "" {
			return nil
		}
		existing, err := cmt.Get(field)
		if err != nil {
			return err
		}
		for _, v := range existing {
			if strings.TrimSpace(v) != "" {
				return nil
			}
		}
		changed = true
		return cmt.Add(field, value)
	}
	if err := add(flacvorbis.FIELD_ARTIST, tags.Artist); err != nil {
		return false, err
	}
	if err := add(flacvorbis.FIELD_ALBUM, tags.Album); err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	block := cmt.Marshal()
	if idx >= 0 {
		f.Meta[idx] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}

	return true, writeAtomic(path, f.Marshal())
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "*.flac.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write FLAC data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, constants.FilePermissions); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace original FLAC file: %w", err)
	}
	success = true
	return nil
}
