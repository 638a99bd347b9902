// Scraping proxy [Extractor] implementation
//
// Communicates with the FastAPI proxy server running on port 8080, which reads playlists
// without touching the Data API quota.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
)

const defaultProxyURL string = "http://localhost:8080"

// proxyTrack is a playlist entry in proxy responses.
type proxyTrack struct {
	VideoID    string `json:"videoId"`
	Title      string `json:"title"`
	SetVideoID string `json:"setVideoId,omitempty"` // the entry handle, needed for remove and reorder
}

// proxyPlaylist is a playlist in proxy responses.
type proxyPlaylist struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Privacy     string       `json:"privacy"`
	TrackCount  int          `json:"trackCount"`
	Tracks      []proxyTrack `json:"tracks"`
}

// ProxyExtractor implements [Extractor] over the scraping proxy.
type ProxyExtractor struct {
	baseURL    string
	authFile   string
	httpClient *http.Client
}

// NewProxyExtractor creates a new extractor. An empty baseURL uses the local default.
func NewProxyExtractor(baseURL string, client *http.Client) *ProxyExtractor {
	if baseURL == "" {
		baseURL = defaultProxyURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &ProxyExtractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// WithAuthFile sends the browser auth file path on each request so the proxy can read private playlists.
func (p *ProxyExtractor) WithAuthFile(path string) *ProxyExtractor {
	p.authFile = path
	return p
}

func (p *ProxyExtractor) doRequest(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrExtraction, err)
	}

	if p.authFile != "" {
		req.Header.Set("X-Auth-File", p.authFile)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %w", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		detail := strings.TrimSpace(string(body))
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			detail = errResp.Detail
		}

		if resp.StatusCode == http.StatusNotFound {
			return failures.New(failures.NotFound, resp.StatusCode, "", "playlist not found by extractor: "+detail, ErrExtraction)
		}
		return fmt.Errorf("%w: proxy error (status %d): %s", ErrExtraction, resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrExtraction, err)
	}

	return nil
}

// FetchPlaylist reads a playlist with all its entries.
//
// Calls GET /api/playlists/{id} on the proxy.
func (p *ProxyExtractor) FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, error) {
	var pl proxyPlaylist

	endpoint := fmt.Sprintf("/api/playlists/%s", url.PathEscape(playlistID))
	if err := p.doRequest(ctx, endpoint, &pl); err != nil {
		return nil, err
	}

	visibility, err := models.ParseVisibility(pl.Privacy)
	if err != nil {
		visibility = ""
	}

	snapshot := &models.PlaylistSnapshot{
		ID: pl.ID,
		Metadata: models.Metadata{
			Title:       pl.Title,
			Description: pl.Description,
			Visibility:  visibility,
		},
		Items: make([]models.Item, 0, len(pl.Tracks)),
	}
	if snapshot.ID == "" {
		snapshot.ID = playlistID
	}

	for _, track := range pl.Tracks {
		if track.VideoID == "" {
			continue
		}
		snapshot.Items = append(snapshot.Items, models.Item{
			VideoID: track.VideoID,
			EntryID: track.SetVideoID,
			Title:   track.Title,
		})
	}

	return snapshot, nil
}
