// YouTube Data API v3 [MutationAPI] implementation
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker/v2"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

const (
	defaultDataAPIURL = "https://www.googleapis.com/youtube/v3"
	breakerFailures   = 5
	breakerTimeout    = 30 * time.Second
)

type apiSnippet struct {
	PlaylistID  string         `json:"playlistId,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description"`
	Position    *int           `json:"position,omitempty"`
	ResourceID  *apiResourceID `json:"resourceId,omitempty"`
}

type apiResourceID struct {
	Kind    string `json:"kind"`
	VideoID string `json:"videoId"`
}

type apiStatus struct {
	PrivacyStatus string `json:"privacyStatus,omitempty"`
}

type apiContentDetails struct {
	ItemCount int    `json:"itemCount,omitempty"`
	VideoID   string `json:"videoId,omitempty"`
}

type apiResource struct {
	ID             string             `json:"id,omitempty"`
	Snippet        *apiSnippet        `json:"snippet,omitempty"`
	Status         *apiStatus         `json:"status,omitempty"`
	ContentDetails *apiContentDetails `json:"contentDetails,omitempty"`
}

type apiListResponse struct {
	Items         []apiResource `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// YouTubeClient implements [MutationAPI] over the YouTube Data API v3.
//
// Calls go through a circuit breaker that opens after five consecutive server or transport
// failures and half-opens after thirty seconds. Client errors (4xx) never trip it.
type YouTubeClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *log.Logger
}

// NewYouTubeClient creates a Data API client. The http client should carry the project's OAuth token.
func NewYouTubeClient(baseURL string, client *http.Client, logger *log.Logger) *YouTubeClient {
	if baseURL == "" {
		baseURL = defaultDataAPIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	c := &YouTubeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		logger:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "youtube-data-api",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			var he *failures.HTTPError
			if errors.As(err, &he) {
				return he.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// do sends one request through the breaker and decodes a 2xx body into result.
func (c *YouTubeClient) do(ctx context.Context, method, endpoint string, query url.Values, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	apiURL := c.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &failures.HTTPError{Status: resp.StatusCode, Body: data}
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// CreatePlaylist creates a playlist and returns its ID.
//
// Calls POST /playlists?part=snippet,status.
func (c *YouTubeClient) CreatePlaylist(ctx context.Context, meta models.Metadata) (string, error) {
	req := apiResource{
		Snippet: &apiSnippet{Title: meta.Title, Description: meta.Description},
		Status:  &apiStatus{PrivacyStatus: privacy(meta.Visibility)},
	}

	var resp apiResource
	if err := c.do(ctx, http.MethodPost, "/playlists", url.Values{"part": {"snippet,status"}}, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create playlist response has no id")
	}

	return resp.ID, nil
}

// UpdateMetadata replaces title and description, and visibility when meta sets one.
//
// Calls PUT /playlists?part=snippet[,status].
func (c *YouTubeClient) UpdateMetadata(ctx context.Context, playlistID string, meta models.Metadata) error {
	req := apiResource{
		ID:      playlistID,
		Snippet: &apiSnippet{Title: meta.Title, Description: meta.Description},
	}

	part := "snippet"
	if meta.Visibility != "" {
		req.Status = &apiStatus{PrivacyStatus: string(meta.Visibility)}
		part = "snippet,status"
	}

	return c.do(ctx, http.MethodPut, "/playlists", url.Values{"part": {part}}, req, nil)
}

// InsertItem adds videoID to the playlist and returns the new entry ID.
//
// Calls POST /playlistItems?part=snippet.
func (c *YouTubeClient) InsertItem(ctx context.Context, playlistID, videoID string, position int) (string, error) {
	snippet := &apiSnippet{
		PlaylistID: playlistID,
		ResourceID: &apiResourceID{Kind: "youtube#video", VideoID: videoID},
	}
	if position >= 0 {
		snippet.Position = &position
	}

	var resp apiResource
	if err := c.do(ctx, http.MethodPost, "/playlistItems", url.Values{"part": {"snippet"}}, apiResource{Snippet: snippet}, &resp); err != nil {
		return "", err
	}

	return resp.ID, nil
}

// RemoveItem deletes one playlist entry.
//
// Calls DELETE /playlistItems?id={entryID}.
func (c *YouTubeClient) RemoveItem(ctx context.Context, entryID string) error {
	return c.do(ctx, http.MethodDelete, "/playlistItems", url.Values{"id": {entryID}}, nil, nil)
}

// ReorderItem moves an entry to position.
//
// Calls PUT /playlistItems?part=snippet.
func (c *YouTubeClient) ReorderItem(ctx context.Context, playlistID string, item models.Item, position int) error {
	req := apiResource{
		ID: item.EntryID,
		Snippet: &apiSnippet{
			PlaylistID: playlistID,
			ResourceID: &apiResourceID{Kind: "youtube#video", VideoID: item.VideoID},
			Position:   &position,
		},
	}

	return c.do(ctx, http.MethodPut, "/playlistItems", url.Values{"part": {"snippet"}}, req, nil)
}

// ListOwnedPlaylists returns every playlist owned by the account and the number of pages read.
//
// Calls GET /playlists?part=snippet,status,contentDetails&mine=true.
func (c *YouTubeClient) ListOwnedPlaylists(ctx context.Context) ([]OwnedPlaylist, int, error) {
	var (
		out   []OwnedPlaylist
		pages int
		token string
	)

	for {
		query := url.Values{
			"part":       {"snippet,status,contentDetails"},
			"mine":       {"true"},
			"maxResults": {fmt.Sprint(PageSize)},
		}
		if token != "" {
			query.Set("pageToken", token)
		}

		var resp apiListResponse
		err := c.do(ctx, http.MethodGet, "/playlists", query, nil, &resp)
		if billable(err) {
			pages++
		}
		if err != nil {
			return out, pages, err
		}

		for _, item := range resp.Items {
			pl := OwnedPlaylist{ID: item.ID}
			if item.Snippet != nil {
				pl.Title = item.Snippet.Title
			}
			if item.Status != nil {
				pl.Visibility, _ = models.ParseVisibility(item.Status.PrivacyStatus)
			}
			if item.ContentDetails != nil {
				pl.ItemCount = item.ContentDetails.ItemCount
			}
			out = append(out, pl)
		}

		if resp.NextPageToken == "" {
			return out, pages, nil
		}
		token = resp.NextPageToken
	}
}

// PlaylistItemCount reports how many entries a playlist holds.
//
// Calls GET /playlists?part=contentDetails&id={id}.
func (c *YouTubeClient) PlaylistItemCount(ctx context.Context, playlistID string) (int, error) {
	var resp apiListResponse
	err := c.do(ctx, http.MethodGet, "/playlists", url.Values{"part": {"contentDetails"}, "id": {playlistID}}, nil, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.Items) == 0 {
		return 0, playlistNotFound()
	}
	if cd := resp.Items[0].ContentDetails; cd != nil {
		return cd.ItemCount, nil
	}
	return 0, nil
}

// FetchPlaylist reads metadata and every entry of a playlist, returning the number of list calls made.
//
// Calls GET /playlists?id={id} then GET /playlistItems?playlistId={id} per page.
func (c *YouTubeClient) FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, int, error) {
	pages := 0

	var meta apiListResponse
	err := c.do(ctx, http.MethodGet, "/playlists", url.Values{"part": {"snippet,status"}, "id": {playlistID}}, nil, &meta)
	if billable(err) {
		pages++
	}
	if err != nil {
		return nil, pages, err
	}
	if len(meta.Items) == 0 {
		return nil, pages, playlistNotFound()
	}

	snapshot := &models.PlaylistSnapshot{ID: playlistID}
	if s := meta.Items[0].Snippet; s != nil {
		snapshot.Metadata.Title = s.Title
		snapshot.Metadata.Description = s.Description
	}
	if s := meta.Items[0].Status; s != nil {
		snapshot.Metadata.Visibility, _ = models.ParseVisibility(s.PrivacyStatus)
	}

	token := ""
	for {
		query := url.Values{
			"part":       {"snippet,contentDetails"},
			"playlistId": {playlistID},
			"maxResults": {fmt.Sprint(PageSize)},
		}
		if token != "" {
			query.Set("pageToken", token)
		}

		var resp apiListResponse
		err := c.do(ctx, http.MethodGet, "/playlistItems", query, nil, &resp)
		if billable(err) {
			pages++
		}
		if err != nil {
			return nil, pages, err
		}

		for _, item := range resp.Items {
			entry := models.Item{EntryID: item.ID}
			if item.ContentDetails != nil {
				entry.VideoID = item.ContentDetails.VideoID
			}
			if item.Snippet != nil {
				entry.Title = item.Snippet.Title
				if entry.VideoID == "" && item.Snippet.ResourceID != nil {
					entry.VideoID = item.Snippet.ResourceID.VideoID
				}
			}
			if entry.VideoID != "" {
				snapshot.Items = append(snapshot.Items, entry)
			}
		}

		if resp.NextPageToken == "" {
			return snapshot, pages, nil
		}
		token = resp.NextPageToken
	}
}

// Billable reports whether a call that returned err reached the provider and is charged.
// Successes and HTTP error responses are charged; transport failures and open-breaker rejections are not.
func Billable(err error) bool {
	return billable(err)
}

func playlistNotFound() *failures.HTTPError {
	return &failures.HTTPError{Status: http.StatusNotFound, Body: []byte(`{"error":{"code":404,"message":"playlist not found","errors":[{"reason":"playlistNotFound"}]}}`)}
}

func billable(err error) bool {
	if err == nil {
		return true
	}
	var he *failures.HTTPError
	return errors.As(err, &he)
}

func privacy(v models.Visibility) string {
	if v == "" {
		return string(models.VisibilityPrivate)
	}
	return string(v)
}
