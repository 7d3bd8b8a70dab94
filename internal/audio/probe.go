// Package audio reads tags and stream properties from audio files.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/logger"
)

// Info describes one audio file. Missing tags are empty strings and unknown
// stream properties are zero.
type Info struct {
	Title    string
	Artist   string
	Album    string
	Format   string // lowercase extension without the dot
	Duration float64
	Bitrate  int // bits per second
	Size     int64
}

type Prober struct {
	ffprobePath string
	logger      *logger.Logger
}

// NewProber returns a Prober. An empty ffprobePath disables ffprobe.
func NewProber(ffprobePath string, log *logger.Logger) *Prober {
	return &Prober{ffprobePath: ffprobePath, logger: log.WithComponent("audio")}
}

// Probe reads path. It fails only when the file cannot be opened or stat'ed;
// unparseable tags degrade to empty values.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	if st.IsDir() {
		return Info{}, fmt.Errorf("%s is a directory", path)
	}

	info := Info{
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Size:   st.Size(),
	}

	switch "." + info.Format {
	case constants.ExtMP3:
		p.probeMP3(f, path, &info)
	case constants.ExtFLAC:
		p.probeFLAC(f, &info)
	default:
		p.probeGeneric(f, &info)
	}

	if info.Bitrate == 0 && info.Duration > 0 {
		info.Bitrate = averageBitrate(info.Size, info.Duration)
	}
	if info.Duration == 0 || info.Bitrate == 0 {
		p.probeFFprobe(ctx, path, &info)
		if info.Bitrate == 0 && info.Duration > 0 {
			info.Bitrate = averageBitrate(info.Size, info.Duration)
		}
	}
	return info, nil
}

func averageBitrate(size int64, seconds float64) int {
	return int(float64(size*8) / seconds)
}

func (p *Prober) probeMP3(f *os.File, path string, info *Info) {
	tagSize := id3v2Size(f)

	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		p.logger.Debug("Cannot parse ID3 tag", "file_path", path, "error", err)
	} else {
		info.Title = strings.TrimSpace(t.Title())
		info.Artist = strings.TrimSpace(t.Artist())
		info.Album = strings.TrimSpace(t.Album())
		if tf := t.GetTextFrame("TLEN"); tf.Text != "" {
			if ms, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(tf.Text, "\x00")), 64); err == nil && ms > 0 {
				info.Duration = ms / 1000
			}
		}
		t.Close()
	}

	if h, ok := findMPEGHeader(f, tagSize); ok {
		info.Bitrate = h.Bitrate
		if info.Duration == 0 && h.Bitrate > 0 {
			audioBytes := info.Size - tagSize
			if audioBytes > 0 {
				info.Duration = float64(audioBytes*8) / float64(h.Bitrate)
			}
		}
	}
}

func (p *Prober) probeFLAC(f *os.File, info *Info) {
	file, err := flac.ParseMetadata(f)
	if err != nil {
		p.logger.Debug("Cannot parse FLAC metadata", "file_path", f.Name(), "error", err)
		return
	}

	if si, err := file.GetStreamInfo(); err == nil && si.SampleRate > 0 {
		info.Duration = float64(si.SampleCount) / float64(si.SampleRate)
	}

	for _, block := range file.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		info.Title = firstComment(cmt, flacvorbis.FIELD_TITLE)
		info.Artist = firstComment(cmt, flacvorbis.FIELD_ARTIST)
		info.Album = firstComment(cmt, flacvorbis.FIELD_ALBUM)
		break
	}
}

func firstComment(cmt *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	vals, err := cmt.Get(field)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func (p *Prober) probeGeneric(f *os.File, info *Info) {
	m, err := tag.ReadFrom(f)
	if err != nil {
		p.logger.Debug("Cannot read tags", "file_path", f.Name(), "error", err)
		return
	}
	info.Title = strings.TrimSpace(m.Title())
	info.Artist = strings.TrimSpace(m.Artist())
	info.Album = strings.TrimSpace(m.Album())
}

func (p *Prober) probeFFprobe(ctx context.Context, path string, info *Info) {
	if p.ffprobePath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ProbeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration,bit_rate",
		"-of", "json",
		path,
	}
	out, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		p.logger.Debug("ffprobe failed", "file_path", path, "error", err)
		return
	}

	var payload struct {
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return
	}
	if info.Duration == 0 {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}
	if info.Bitrate == 0 {
		if b, err := strconv.Atoi(payload.Format.BitRate); err == nil {
			info.Bitrate = b
		}
	}
}
