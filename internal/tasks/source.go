package tasks

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

// Batch commands.
const (
	CommandCopy  = "copy"  // copy a playlist into a new one
	CommandSync  = "sync"  // make a target playlist match a source playlist
	CommandApply = "apply" // make playlists match a desired-state document
)

// Task source types.
const (
	SourcePlaylist = "playlist"
	SourceDesired  = "desired"
)

// TaskSpec is one logical task produced by decomposing a batch source.
//
// For sync tasks TargetName holds the target playlist ID.
type TaskSpec struct {
	SourceID   string
	SourceType string
	TargetName string
}

// DesiredState is a desired-state document.
//
//	[[playlists]]
//	id = "PLxxxx"          # omit to create a new playlist
//	title = "Focus"
//	description = "Deep work"
//	visibility = "unlisted"
//	videos = ["dQw4w9WgXcQ", "9bZkp7q19f0"]
type DesiredState struct {
	Playlists []DesiredPlaylist `toml:"playlists"`
}

// DesiredPlaylist is the wanted state of one playlist. A nil Description keeps the current one.
type DesiredPlaylist struct {
	ID          string   `toml:"id"`
	Title       string   `toml:"title"`
	Description *string  `toml:"description"`
	Visibility  string   `toml:"visibility"`
	Videos      []string `toml:"videos"`
}

// Key identifies the entry within its document.
func (p DesiredPlaylist) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return "new:" + p.Title
}

// Metadata returns the wanted metadata, keeping current values for fields the entry leaves unset.
func (p DesiredPlaylist) Metadata(current models.Metadata) models.Metadata {
	meta := models.Metadata{Title: p.Title, Description: current.Description}
	if p.Description != nil {
		meta.Description = *p.Description
	}
	meta.Visibility, _ = models.ParseVisibility(p.Visibility)
	return meta
}

// Snapshot returns the wanted playlist state relative to current metadata.
func (p DesiredPlaylist) Snapshot(id string, current models.Metadata) models.PlaylistSnapshot {
	items := make([]models.Item, 0, len(p.Videos))
	for _, v := range p.Videos {
		items = append(items, models.Item{VideoID: v})
	}
	return models.PlaylistSnapshot{ID: id, Metadata: p.Metadata(current), Items: items}
}

// LoadDesiredState reads and validates a desired-state document.
func LoadDesiredState(path string) (*DesiredState, error) {
	var state DesiredState
	if _, err := toml.DecodeFile(shared.ExpandHome(path), &state); err != nil {
		return nil, fmt.Errorf("%w: desired state %s: %v", shared.ErrInvalidInput, path, err)
	}

	if len(state.Playlists) == 0 {
		return nil, fmt.Errorf("%w: desired state %s has no playlists", shared.ErrInvalidInput, path)
	}

	seen := make(map[string]bool, len(state.Playlists))
	for i, p := range state.Playlists {
		if strings.TrimSpace(p.ID) == "" && strings.TrimSpace(p.Title) == "" {
			return nil, fmt.Errorf("%w: playlist #%d needs an id or a title", shared.ErrInvalidInput, i+1)
		}
		if _, err := models.ParseVisibility(p.Visibility); err != nil {
			return nil, fmt.Errorf("%w: playlist #%d: %v", shared.ErrInvalidInput, i+1, err)
		}
		if seen[p.Key()] {
			return nil, fmt.Errorf("%w: playlist %q appears twice", shared.ErrInvalidInput, p.Key())
		}
		seen[p.Key()] = true
	}

	return &state, nil
}

// Find returns the entry with key.
func (s *DesiredState) Find(key string) (DesiredPlaylist, bool) {
	for _, p := range s.Playlists {
		if p.Key() == key {
			return p, true
		}
	}
	return DesiredPlaylist{}, false
}

// Decompose turns a command and its source descriptor into task specs.
//
// copy accepts a playlist ID or a file of "id[|new title]" lines. sync accepts
// "source|target" or a file of such lines. apply accepts a desired-state document path.
func Decompose(command, source string) ([]TaskSpec, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: source", shared.ErrMissingArgument)
	}

	switch command {
	case CommandApply:
		state, err := LoadDesiredState(source)
		if err != nil {
			return nil, err
		}
		specs := make([]TaskSpec, 0, len(state.Playlists))
		for _, p := range state.Playlists {
			specs = append(specs, TaskSpec{SourceID: p.Key(), SourceType: SourceDesired, TargetName: p.Title})
		}
		return specs, nil

	case CommandCopy, CommandSync:
		lines, err := sourceLines(source)
		if err != nil {
			return nil, err
		}

		specs := make([]TaskSpec, 0, len(lines))
		for _, line := range lines {
			id, target, _ := strings.Cut(line, "|")
			id, target = strings.TrimSpace(id), strings.TrimSpace(target)
			if id == "" {
				return nil, fmt.Errorf("%w: empty source id in %q", shared.ErrInvalidInput, line)
			}
			if command == CommandSync && target == "" {
				return nil, fmt.Errorf("%w: sync needs \"source|target\", got %q", shared.ErrInvalidInput, line)
			}
			specs = append(specs, TaskSpec{SourceID: id, SourceType: SourcePlaylist, TargetName: target})
		}
		return specs, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", shared.ErrInvalidArgument, command)
	}
}

// sourceLines reads a file of entries, or treats source as a single entry when it is not a file.
func sourceLines(source string) ([]string, error) {
	info, err := os.Stat(shared.ExpandHome(source))
	if err != nil || info.IsDir() {
		return []string{source}, nil
	}

	f, err := os.Open(shared.ExpandHome(source))
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: source file %s has no entries", shared.ErrInvalidInput, source)
	}

	return lines, nil
}
