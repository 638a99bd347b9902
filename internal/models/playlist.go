package models

import (
	"fmt"
	"strings"
)

// Visibility is a playlist's privacy status.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// ParseVisibility accepts provider or user spellings ("PUBLIC", "Private", ...). Empty input is allowed.
func ParseVisibility(raw string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(raw))); v {
	case "", VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return v, nil
	default:
		return "", fmt.Errorf("invalid visibility %q", raw)
	}
}

// Metadata holds the editable playlist fields.
type Metadata struct {
	Title       string
	Description string
	Visibility  Visibility
}

// Item is a playlist entry. VideoID is the stable identity; EntryID is the provider's handle for the entry.
type Item struct {
	VideoID string
	EntryID string
	Title   string
}

// PlaylistSnapshot is the observed or desired state of one playlist.
type PlaylistSnapshot struct {
	ID       string
	Metadata Metadata
	Items    []Item
}

// VideoIDs returns the item identities in order.
func (p *PlaylistSnapshot) VideoIDs() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.VideoID
	}
	return ids
}
