// package services defines the read and write interfaces for playlist state
package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytq/internal/failures"
	"github.com/desertthunder/ytq/internal/models"
)

// Quota units charged by the provider per call.
const (
	CostList           = 1
	CostCreatePlaylist = 50
	CostUpdateMetadata = 50
	CostInsertItem     = 50
	CostRemoveItem     = 50
	CostReorderItem    = 50
)

// PageSize is the number of entries requested per list page.
const PageSize = 50

// FetchCost is the quota a full API read of a playlist with items entries costs:
// one metadata call plus one call per page, with at least one page.
func FetchCost(items int) int {
	pages := max(1, (items+PageSize-1)/PageSize)
	return CostList * (1 + pages)
}

// ErrExtraction wraps every read-path failure. It classifies as a network failure.
var ErrExtraction = fmt.Errorf("%w: playlist extraction failed", failures.ErrNetwork)

// Extractor reads playlist state at zero quota cost.
type Extractor interface {
	FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, error)
}

// OwnedPlaylist is a playlist owned by the authenticated account.
type OwnedPlaylist struct {
	ID         string
	Title      string
	ItemCount  int
	Visibility models.Visibility
}

// MutationAPI writes playlist state and spends quota.
//
// Non-2xx responses are returned as [*failures.HTTPError]. List methods also return the number
// of pages fetched, which is the number of quota units spent, including on failure.
type MutationAPI interface {
	// CreatePlaylist creates a playlist and returns its ID.
	CreatePlaylist(ctx context.Context, meta models.Metadata) (string, error)

	// UpdateMetadata replaces the playlist's title, description and visibility.
	UpdateMetadata(ctx context.Context, playlistID string, meta models.Metadata) error

	// InsertItem appends videoID, or inserts it at position when position >= 0, and returns the new entry ID.
	InsertItem(ctx context.Context, playlistID, videoID string, position int) (string, error)

	// RemoveItem deletes one playlist entry.
	RemoveItem(ctx context.Context, entryID string) error

	// ReorderItem moves an entry to position.
	ReorderItem(ctx context.Context, playlistID string, item models.Item, position int) error

	// ListOwnedPlaylists returns every playlist owned by the account.
	ListOwnedPlaylists(ctx context.Context) ([]OwnedPlaylist, int, error)

	// PlaylistItemCount returns the number of entries in a playlist with a single list call.
	PlaylistItemCount(ctx context.Context, playlistID string) (int, error)

	// FetchPlaylist reads a playlist through the quota-costed path.
	FetchPlaylist(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, int, error)
}
