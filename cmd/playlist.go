package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytq/internal/diff"
	"github.com/desertthunder/ytq/internal/formatter"
	"github.com/desertthunder/ytq/internal/models"
)

// PlaylistDiff previews the writes that would make --current match --desired, without spending quota.
func (r *Runner) PlaylistDiff(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	currentID, desiredID := cmd.String("current"), cmd.String("desired")

	current, err := r.extractor.FetchPlaylist(ctx, currentID)
	if err != nil {
		return err
	}
	desired, err := r.extractor.FetchPlaylist(ctx, desiredID)
	if err != nil {
		return err
	}

	d := diff.Compute(*current, models.PlaylistSnapshot{
		ID:       current.ID,
		Metadata: models.Metadata{Description: current.Metadata.Description},
		Items:    desired.Items,
	})

	if cmd.Bool("json") {
		return r.writeJSON(struct {
			Current   string         `json:"current"`
			Desired   string         `json:"desired"`
			Additions []string       `json:"additions"`
			Removals  []string       `json:"removals"`
			Reorders  []diff.Reorder `json:"reorders"`
			Writes    int            `json:"writes"`
			Cost      int            `json:"cost"`
		}{currentID, desiredID, videoIDs(d.Additions), videoIDs(d.Removals), d.Reorders, d.Writes(), d.Cost()}, true)
	}

	return r.writeBytes(formatter.DiffToText(currentID, d))
}

// PlaylistShow prints a playlist as read through the extractor.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	snapshot, err := r.extractor.FetchPlaylist(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snapshot, true)
	}

	r.writePlain("%s\n", formatter.Title(snapshot.Metadata.Title))
	if snapshot.Metadata.Description != "" {
		r.writePlain("%s\n", snapshot.Metadata.Description)
	}
	r.writePlain("Visibility: %s\nItems: %d\n\n", snapshot.Metadata.Visibility, len(snapshot.Items))
	for i, item := range snapshot.Items {
		r.writePlain("%3d. %s  %s\n", i+1, item.VideoID, item.Title)
	}
	return nil
}

func videoIDs(items []models.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.VideoID
	}
	return ids
}

func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlist",
		Usage: "Zero-quota playlist reads",
		Commands: []*cli.Command{
			{
				Name:  "diff",
				Usage: "Show the writes that would make one playlist match another",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "current", Usage: "Playlist to change", Required: true},
					&cli.StringFlag{Name: "desired", Usage: "Playlist to match", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
				},
				Action: r.PlaylistDiff,
			},
			{
				Name:  "show",
				Usage: "Print a playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Playlist ID", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
				},
				Action: r.PlaylistShow,
			},
		},
	}
}
