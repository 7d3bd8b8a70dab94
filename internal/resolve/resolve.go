// Package resolve turns a job's source locator into something yt-dlp accepts.
package resolve

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cesargomez89/tubedrop/internal/domain"
)

const (
	searchPrefix   = "search:"
	ytSearchPrefix = "ytsearch1:"
)

// TrackLookup resolves a Spotify track id to a search phrase.
type TrackLookup interface {
	TrackQuery(ctx context.Context, trackID string) (string, error)
}

type Resolver struct {
	spotify TrackLookup
}

// New returns a Resolver. spotify may be nil, in which case Spotify track
// URLs fail to resolve.
func New(spotify TrackLookup) *Resolver {
	return &Resolver{spotify: spotify}
}

// Resolve returns the locator to hand to yt-dlp. Unknown forms pass through
// unchanged.
func (r *Resolver) Resolve(ctx context.Context, locator string, req domain.Request) (string, error) {
	if song, ok := req.(domain.SingleSongRequest); ok && strings.TrimSpace(song.SearchQuery) != "" {
		return ytSearchPrefix + strings.TrimSpace(song.SearchQuery), nil
	}

	locator = strings.TrimSpace(locator)
	if q, ok := strings.CutPrefix(locator, searchPrefix); ok {
		return ytSearchPrefix + strings.TrimSpace(q), nil
	}

	if id, ok := SpotifyTrackID(locator); ok {
		if r.spotify == nil {
			return "", fmt.Errorf("cannot resolve spotify track %s: lookup disabled", id)
		}
		q, err := r.spotify.TrackQuery(ctx, id)
		if err != nil {
			return "", fmt.Errorf("resolving spotify track %s: %w", id, err)
		}
		return ytSearchPrefix + q, nil
	}

	return NormalizeYouTubeMusic(locator), nil
}

// NormalizeYouTubeMusic rewrites music.youtube.com watch and playlist URLs to
// their youtube.com equivalents.
func NormalizeYouTubeMusic(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || !strings.EqualFold(u.Hostname(), "music.youtube.com") {
		return locator
	}

	q := u.Query()
	switch {
	case u.Path == "/watch" && q.Get("v") != "":
		return "https://youtube.com/watch?v=" + q.Get("v")
	case u.Path == "/playlist" && q.Get("list") != "":
		return "https://youtube.com/playlist?list=" + q.Get("list")
	}
	return locator
}

// SpotifyTrackID extracts the id from an open.spotify.com track URL or a
// spotify:track: URI.
func SpotifyTrackID(locator string) (string, bool) {
	if id, ok := strings.CutPrefix(locator, "spotify:track:"); ok && id != "" {
		return id, true
	}

	u, err := url.Parse(locator)
	if err != nil || !strings.EqualFold(u.Hostname(), "open.spotify.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Localized links look like /intl-de/track/<id>.
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) == 2 && parts[0] == "track" && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}

// SourceOf classifies a locator by originating service.
func SourceOf(locator string) string {
	if _, ok := SpotifyTrackID(locator); ok {
		return domain.SourceSpotify
	}
	if u, err := url.Parse(locator); err == nil && strings.EqualFold(u.Hostname(), "music.youtube.com") {
		return domain.SourceYouTubeMusic
	}
	return domain.SourceYouTube
}
