package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
)

func TestProxyExtractor(t *testing.T) {
	t.Run("NewProxyExtractor", func(t *testing.T) {
		t.Run("uses default URL", func(t *testing.T) {
			if p := NewProxyExtractor("", nil); p.baseURL != defaultProxyURL {
				t.Errorf("expected baseURL %s, got %s", defaultProxyURL, p.baseURL)
			}
		})

		t.Run("trims trailing slash", func(t *testing.T) {
			if p := NewProxyExtractor("http://localhost:9000/", nil); p.baseURL != "http://localhost:9000" {
				t.Errorf("unexpected baseURL %s", p.baseURL)
			}
		})
	})

	t.Run("FetchPlaylist", func(t *testing.T) {
		mockPlaylist := map[string]any{
			"id":          "PL123",
			"title":       "Road Trip",
			"description": "Long drives",
			"privacy":     "PUBLIC",
			"trackCount":  3,
			"tracks": []map[string]any{
				{"videoId": "vid1", "title": "Song 1", "setVideoId": "set1"},
				{"videoId": "", "title": "Unavailable"},
				{"videoId": "vid2", "title": "Song 2", "setVideoId": "set2"},
			},
		}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/playlists/PL123" {
				t.Errorf("expected path /api/playlists/PL123, got %s", r.URL.Path)
			}
			if r.Header.Get("X-Auth-File") != "/path/to/auth.json" {
				t.Errorf("expected X-Auth-File header")
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(mockPlaylist)
		}))
		defer server.Close()

		p := NewProxyExtractor(server.URL, server.Client()).WithAuthFile("/path/to/auth.json")
		snapshot, err := p.FetchPlaylist(context.Background(), "PL123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if snapshot.ID != "PL123" || snapshot.Metadata.Title != "Road Trip" {
			t.Errorf("unexpected snapshot %+v", snapshot)
		}
		if snapshot.Metadata.Visibility != models.VisibilityPublic {
			t.Errorf("expected public visibility, got %q", snapshot.Metadata.Visibility)
		}
		if len(snapshot.Items) != 2 {
			t.Fatalf("expected 2 items (unavailable dropped), got %d", len(snapshot.Items))
		}
		if snapshot.Items[1].VideoID != "vid2" || snapshot.Items[1].EntryID != "set2" {
			t.Errorf("unexpected second item %+v", snapshot.Items[1])
		}
	})

	t.Run("not found classifies as NOT_FOUND", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Playlist not found"}`))
		}))
		defer server.Close()

		_, err := NewProxyExtractor(server.URL, server.Client()).FetchPlaylist(context.Background(), "missing")
		if err == nil {
			t.Fatal("expected error")
		}
		if got := failures.Classify(err).Category; got != failures.NotFound {
			t.Errorf("expected NOT_FOUND, got %s", got)
		}
		if !errors.Is(err, ErrExtraction) {
			t.Errorf("expected error to wrap ErrExtraction, got %v", err)
		}
	})

	t.Run("server error classifies as NETWORK_ERROR", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewProxyExtractor(server.URL, server.Client()).FetchPlaylist(context.Background(), "PL1")
		if got := failures.Classify(err).Category; got != failures.NetworkError {
			t.Errorf("expected NETWORK_ERROR, got %s", got)
		}
	})

	t.Run("unreachable proxy classifies as NETWORK_ERROR", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		_, err := NewProxyExtractor(url, nil).FetchPlaylist(context.Background(), "PL1")
		if got := failures.Classify(err).Category; got != failures.NetworkError {
			t.Errorf("expected NETWORK_ERROR, got %s", got)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		_, err := NewProxyExtractor(server.URL, server.Client()).FetchPlaylist(context.Background(), "PL1")
		if !errors.Is(err, ErrExtraction) {
			t.Errorf("expected ErrExtraction, got %v", err)
		}
	})
}
