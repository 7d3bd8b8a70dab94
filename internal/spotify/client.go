// Package spotify looks up track metadata through the Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/cesargomez89/tubedrop/internal/backoff"
	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/httpclient"
)

const (
	DefaultAPIURL   = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
)

var ErrNotConfigured = errors.New("spotify credentials not configured")

type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	TokenURL     string
	// Backoff between throttled attempts. Nil keeps the client default.
	Backoff backoff.Policy
}

// Client authenticates with the client-credentials flow on first use.
// Tokens are refreshed by the oauth2 transport.
type Client struct {
	cfg Config

	once       sync.Once
	httpClient *httpclient.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &Client{cfg: cfg}
}

// Enabled reports whether credentials were supplied.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

func (c *Client) client() *httpclient.Client {
	c.once.Do(func() {
		cc := &clientcredentials.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			TokenURL:     c.cfg.TokenURL,
		}
		hc := cc.Client(context.Background())
		hc.Timeout = constants.SpotifyTimeout
		c.httpClient = httpclient.NewClient(hc, 0)
		if c.cfg.Backoff != nil {
			c.httpClient.WithBackoff(c.cfg.Backoff)
		}
	})
	return c.httpClient
}

type artist struct {
	Name string `json:"name"`
}

// Track is the subset of the track object this service uses.
type Track struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Artists []artist `json:"artists"`
	Album   struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMS int `json:"duration_ms"`
}

// ArtistNames joins the credited artists with ", ".
func (t *Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// SearchQuery is the phrase used to find the track on YouTube.
func (t *Track) SearchQuery() string {
	return strings.TrimSpace(t.ArtistNames() + " " + t.Name)
}

// GetTrack fetches one track by id.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/tracks/%s", c.cfg.APIURL, url.PathEscape(trackID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client().Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify track lookup failed with status %d", resp.StatusCode)
	}

	var track Track
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &track, nil
}

// TrackQuery returns the search phrase for a Spotify track id.
func (c *Client) TrackQuery(ctx context.Context, trackID string) (string, error) {
	track, err := c.GetTrack(ctx, trackID)
	if err != nil {
		return "", err
	}
	q := track.SearchQuery()
	if q == "" {
		return "", fmt.Errorf("spotify track %s has no name", trackID)
	}
	return q, nil
}
