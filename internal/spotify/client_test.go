package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/tubedrop/internal/backoff"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "id" || secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/tracks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v1/tracks/4uLU6hMCjMI75M1A2tKUQC" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"4uLU6hMCjMI75M1A2tKUQC","name":"Never Gonna Give You Up",
			"artists":[{"name":"Rick Astley"},{"name":"Guest"}],
			"album":{"name":"Whenever You Need Somebody"},"duration_ms":213573}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTrackQuery(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		APIURL:       srv.URL + "/v1",
		TokenURL:     srv.URL + "/api/token",
	})

	q, err := c.TrackQuery(context.Background(), "4uLU6hMCjMI75M1A2tKUQC")
	require.NoError(t, err)
	assert.Equal(t, "Rick Astley, Guest Never Gonna Give You Up", q)

	track, err := c.GetTrack(context.Background(), "4uLU6hMCjMI75M1A2tKUQC")
	require.NoError(t, err)
	assert.Equal(t, "Whenever You Need Somebody", track.Album.Name)
	assert.Equal(t, 213573, track.DurationMS)
}

func TestTrackQueryNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		APIURL:       srv.URL + "/v1",
		TokenURL:     srv.URL + "/api/token",
	})

	_, err := c.TrackQuery(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDisabledWithoutCredentials(t *testing.T) {
	c := NewClient(Config{})
	assert.False(t, c.Enabled())

	_, err := c.TrackQuery(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestTrackQueryRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/tracks/abc", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc","name":"Song","artists":[{"name":"Band"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		APIURL:       srv.URL + "/v1",
		TokenURL:     srv.URL + "/api/token",
		Backoff:      backoff.Zero{},
	})

	q, err := c.TrackQuery(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Band Song", q)
	assert.EqualValues(t, 2, calls.Load())
}
