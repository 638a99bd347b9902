package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/services"
)

// Mutation operation names passed to [MockMutationAPI.Fail] and counted by [MockMutationAPI.CallCount].
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpInsert  = "insert"
	OpRemove  = "remove"
	OpReorder = "reorder"
	OpList    = "list"
	OpFetch   = "fetch"
	OpCount   = "count"
)

// HTTPError builds a provider error response with a Google API error envelope.
func HTTPError(status int, reason string) *failures.HTTPError {
	body := fmt.Sprintf(`{"error":{"code":%d,"message":"%s","errors":[{"reason":"%s","domain":"youtube"}]}}`, status, reason, reason)
	return &failures.HTTPError{Status: status, Body: []byte(body)}
}

// QuotaExceeded is the provider response for an exhausted daily quota.
func QuotaExceeded() *failures.HTTPError {
	return HTTPError(403, "quotaExceeded")
}

// NotFound is the provider response for a missing playlist or entry.
func NotFound() *failures.HTTPError {
	return HTTPError(404, "playlistNotFound")
}

// MockMutationAPI is an in-memory [services.MutationAPI] that keeps playlist state.
type MockMutationAPI struct {
	mu        sync.Mutex
	playlists map[string]*models.PlaylistSnapshot
	calls     map[string]int
	seq       int

	// Fail is consulted before each call. A non-nil result is returned instead of performing the call.
	Fail func(op, playlistID string) error
}

// NewMockMutationAPI creates an empty mock.
func NewMockMutationAPI() *MockMutationAPI {
	return &MockMutationAPI{
		playlists: make(map[string]*models.PlaylistSnapshot),
		calls:     make(map[string]int),
	}
}

// Seed stores a playlist, assigning entry IDs to items without one.
func (m *MockMutationAPI) Seed(snapshot models.PlaylistSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := clone(snapshot)
	for i := range copied.Items {
		if copied.Items[i].EntryID == "" {
			copied.Items[i].EntryID = m.nextID("entry")
		}
	}
	m.playlists[copied.ID] = &copied
}

// Snapshot returns a copy of a stored playlist.
func (m *MockMutationAPI) Snapshot(id string) (models.PlaylistSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pl, ok := m.playlists[id]
	if !ok {
		return models.PlaylistSnapshot{}, false
	}
	return clone(*pl), true
}

// CallCount returns how many times op was attempted, including injected failures.
func (m *MockMutationAPI) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockMutationAPI) begin(op, playlistID string) error {
	m.calls[op]++
	if m.Fail != nil {
		return m.Fail(op, playlistID)
	}
	return nil
}

func (m *MockMutationAPI) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MockMutationAPI) CreatePlaylist(ctx context.Context, meta models.Metadata) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpCreate, ""); err != nil {
		return "", err
	}

	id := m.nextID("PL")
	m.playlists[id] = &models.PlaylistSnapshot{ID: id, Metadata: meta}
	return id, nil
}

func (m *MockMutationAPI) UpdateMetadata(ctx context.Context, playlistID string, meta models.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpUpdate, playlistID); err != nil {
		return err
	}

	pl, ok := m.playlists[playlistID]
	if !ok {
		return NotFound()
	}
	pl.Metadata = meta
	return nil
}

func (m *MockMutationAPI) InsertItem(ctx context.Context, playlistID, videoID string, position int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpInsert, playlistID); err != nil {
		return "", err
	}

	pl, ok := m.playlists[playlistID]
	if !ok {
		return "", NotFound()
	}

	item := models.Item{VideoID: videoID, EntryID: m.nextID("entry")}
	if position < 0 || position > len(pl.Items) {
		position = len(pl.Items)
	}
	pl.Items = slices.Insert(pl.Items, position, item)
	return item.EntryID, nil
}

func (m *MockMutationAPI) RemoveItem(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, pl := range m.playlists {
		i := slices.IndexFunc(pl.Items, func(it models.Item) bool { return it.EntryID == entryID })
		if i < 0 {
			continue
		}
		if err := m.begin(OpRemove, id); err != nil {
			return err
		}
		pl.Items = slices.Delete(pl.Items, i, i+1)
		return nil
	}

	if err := m.begin(OpRemove, ""); err != nil {
		return err
	}
	return HTTPError(404, "playlistItemNotFound")
}

func (m *MockMutationAPI) ReorderItem(ctx context.Context, playlistID string, item models.Item, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpReorder, playlistID); err != nil {
		return err
	}

	pl, ok := m.playlists[playlistID]
	if !ok {
		return NotFound()
	}

	i := slices.IndexFunc(pl.Items, func(it models.Item) bool { return it.EntryID == item.EntryID })
	if i < 0 {
		return HTTPError(404, "playlistItemNotFound")
	}
	moved := pl.Items[i]
	pl.Items = slices.Delete(pl.Items, i, i+1)
	position = min(max(position, 0), len(pl.Items))
	pl.Items = slices.Insert(pl.Items, position, moved)
	return nil
}

func (m *MockMutationAPI) ListOwnedPlaylists(ctx context.Context) ([]services.OwnedPlaylist, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpList, ""); err != nil {
		return nil, 1, err
	}

	out := make([]services.OwnedPlaylist, 0, len(m.playlists))
	for _, pl := range m.playlists {
		out = append(out, services.OwnedPlaylist{
			ID:         pl.ID,
			Title:      pl.Metadata.Title,
			ItemCount:  len(pl.Items),
			Visibility: pl.Metadata.Visibility,
		})
	}
	slices.SortFunc(out, func(a, b services.OwnedPlaylist) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, 1, nil
}

func (m *MockMutationAPI) PlaylistItemCount(ctx context.Context, playlistID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpCount, playlistID); err != nil {
		return 0, err
	}

	pl, ok := m.playlists[playlistID]
	if !ok {
		return 0, NotFound()
	}
	return len(pl.Items), nil
}

// FetchPlaylist bills one metadata call plus one call per page, like the Data API.
func (m *MockMutationAPI) FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(OpFetch, playlistID); err != nil {
		return nil, 1, err
	}

	pl, ok := m.playlists[playlistID]
	if !ok {
		return nil, 1, NotFound()
	}
	copied := clone(*pl)
	return &copied, services.FetchCost(len(copied.Items)), nil
}

// MockExtractor is an [services.Extractor] that reads from a [MockMutationAPI].
type MockExtractor struct {
	Backing *MockMutationAPI
	// Errors maps playlist IDs to the error returned for them.
	Errors map[string]error

	mu    sync.Mutex
	calls int
}

// NewMockExtractor reads through backing.
func NewMockExtractor(backing *MockMutationAPI) *MockExtractor {
	return &MockExtractor{Backing: backing, Errors: make(map[string]error)}
}

func (e *MockExtractor) FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, error) {
	e.mu.Lock()
	e.calls++
	err := e.Errors[playlistID]
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if e.Backing == nil {
		return nil, failures.New(failures.NotFound, 404, "", "playlist not found by extractor", services.ErrExtraction)
	}

	snapshot, ok := e.Backing.Snapshot(playlistID)
	if !ok {
		return nil, failures.New(failures.NotFound, 404, "", "playlist not found by extractor", services.ErrExtraction)
	}
	return &snapshot, nil
}

// Calls returns the number of reads made.
func (e *MockExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func clone(s models.PlaylistSnapshot) models.PlaylistSnapshot {
	s.Items = append([]models.Item(nil), s.Items...)
	return s
}
