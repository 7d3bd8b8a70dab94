package domain

import "fmt"

// Request is the typed payload of a job. Each variant maps to exactly one
// JobType so worker dispatch is a closed type switch.
type Request interface {
	JobType() JobType
	Metadata() Metadata
}

// Source tags for the originating service of a request.
const (
	SourceYouTube      = "youtube"
	SourceYouTubeMusic = "youtube_music"
	SourceSpotify      = "spotify"
)

// SingleSongRequest downloads one track.
type SingleSongRequest struct {
	Extra       map[string]string
	Artist      string
	Album       string
	SearchQuery string
	Source      string
}

func (SingleSongRequest) JobType() JobType { return JobTypeSingleSong }

func (r SingleSongRequest) Metadata() Metadata {
	m := extraMetadata(r.Extra)
	setIf(m, "artist", r.Artist)
	setIf(m, "album", r.Album)
	setIf(m, "search_query", r.SearchQuery)
	setIf(m, "source", r.Source)
	return m
}

// PlaylistRequest downloads a whole playlist into its own folder.
type PlaylistRequest struct {
	Extra        map[string]string
	PlaylistName string
	Source       string
}

func (PlaylistRequest) JobType() JobType { return JobTypePlaylist }

func (r PlaylistRequest) Metadata() Metadata {
	m := extraMetadata(r.Extra)
	setIf(m, "playlist_name", r.PlaylistName)
	setIf(m, "source", r.Source)
	return m
}

// DecodeRequest rebuilds the typed request for a job type from its metadata.
func DecodeRequest(jobType JobType, md Metadata) (Request, error) {
	switch jobType {
	case JobTypeSingleSong:
		r := SingleSongRequest{
			Artist:      md["artist"],
			Album:       md["album"],
			SearchQuery: md["search_query"],
			Source:      md["source"],
		}
		r.Extra = leftover(md, "artist", "album", "search_query", "source")
		return r, nil
	case JobTypePlaylist:
		r := PlaylistRequest{
			PlaylistName: md["playlist_name"],
			Source:       md["source"],
		}
		r.Extra = leftover(md, "playlist_name", "source")
		return r, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}

func extraMetadata(extra map[string]string) Metadata {
	m := make(Metadata, len(extra)+4)
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func setIf(m Metadata, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func leftover(md Metadata, known ...string) map[string]string {
	skip := make(map[string]bool, len(known))
	for _, k := range known {
		skip[k] = true
	}
	var out map[string]string
	for k, v := range md {
		if skip[k] {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}
