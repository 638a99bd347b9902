// Package diff computes the minimal write set that turns one playlist state into another.
//
// Items are identified by video ID. Reorders keep a longest increasing subsequence of
// desired positions in place and move everything else, so the number of moves is the
// minimum achievable with single-item moves.
package diff

import (
	"slices"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/services"
)

// Metadata keys.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldVisibility  = "visibility"
)

// Reorder moves Item to absolute position Index in the playlist as it stands when the move is applied.
type Reorder struct {
	Index int
	Item  models.Item
}

// Diff is the ordered write set between two snapshots. Apply order: additions, removals, metadata, reorders.
type Diff struct {
	Additions []models.Item
	Removals  []models.Item
	Reorders  []Reorder
	Metadata  map[string]string
}

// Empty reports whether no writes are needed.
func (d Diff) Empty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0 && len(d.Reorders) == 0 && len(d.Metadata) == 0
}

// Writes returns the number of mutation calls the diff needs.
func (d Diff) Writes() int {
	n := len(d.Additions) + len(d.Removals) + len(d.Reorders)
	if len(d.Metadata) > 0 {
		n++
	}
	return n
}

// Cost returns the quota units needed to apply the diff.
func (d Diff) Cost() int {
	cost := len(d.Additions)*services.CostInsertItem +
		len(d.Removals)*services.CostRemoveItem +
		len(d.Reorders)*services.CostReorderItem
	if len(d.Metadata) > 0 {
		cost += services.CostUpdateMetadata
	}
	return cost
}

// Compute returns the diff from current to desired.
//
// Duplicate video IDs in desired keep their first occurrence. Duplicates in current keep
// their first occurrence and the rest are removed. Empty Title or Visibility in desired
// means "leave as is".
func Compute(current, desired models.PlaylistSnapshot) Diff {
	want := dedupe(desired.Items)
	pos := make(map[string]int, len(want))
	for i, item := range want {
		pos[item.VideoID] = i
	}

	var d Diff

	kept := make([]models.Item, 0, len(current.Items))
	have := make(map[string]bool, len(current.Items))
	for _, item := range current.Items {
		_, wanted := pos[item.VideoID]
		if !wanted || have[item.VideoID] {
			d.Removals = append(d.Removals, item)
			continue
		}
		have[item.VideoID] = true
		kept = append(kept, item)
	}

	for _, item := range want {
		if !have[item.VideoID] {
			d.Additions = append(d.Additions, item)
		}
	}

	sequence := append(kept, d.Additions...)
	d.Reorders = reorders(sequence, want, pos)
	d.Metadata = metadataChanges(current.Metadata, desired.Metadata)

	return d
}

// reorders returns the moves that sort sequence into want order.
func reorders(sequence, want []models.Item, pos map[string]int) []Reorder {
	ranks := make([]int, len(sequence))
	for i, item := range sequence {
		ranks[i] = pos[item.VideoID]
	}

	fixed := make(map[int]bool, len(ranks))
	for _, r := range lis(ranks) {
		fixed[r] = true
	}

	var moves []int
	for _, r := range ranks {
		if !fixed[r] {
			moves = append(moves, r)
		}
	}
	if len(moves) == 0 {
		return nil
	}
	slices.Sort(moves)

	ids := make([]string, len(sequence))
	for i, item := range sequence {
		ids[i] = item.VideoID
	}

	out := make([]Reorder, 0, len(moves))
	for _, r := range moves {
		id := want[r].VideoID
		at := slices.Index(ids, id)
		ids = slices.Delete(ids, at, at+1)

		index := 0
		if r > 0 {
			index = slices.Index(ids, want[r-1].VideoID) + 1
		}
		ids = slices.Insert(ids, index, id)

		item := sequence[slices.IndexFunc(sequence, func(it models.Item) bool { return it.VideoID == id })]
		out = append(out, Reorder{Index: index, Item: item})
	}

	return out
}

// lis returns the values of one longest strictly increasing subsequence of xs.
func lis(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}

	tails := make([]int, 0, len(xs)) // indices into xs
	prev := make([]int, len(xs))
	for i, x := range xs {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if xs[tails[mid]] < x {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tails[lo-1]
		} else {
			prev[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}

	out := make([]int, len(tails))
	for i, k := len(tails)-1, tails[len(tails)-1]; i >= 0; i, k = i-1, prev[k] {
		out[i] = xs[k]
	}
	return out
}

func metadataChanges(current, desired models.Metadata) map[string]string {
	changes := make(map[string]string)
	if desired.Title != "" && desired.Title != current.Title {
		changes[FieldTitle] = desired.Title
	}
	if desired.Description != current.Description {
		changes[FieldDescription] = desired.Description
	}
	if desired.Visibility != "" && desired.Visibility != current.Visibility {
		changes[FieldVisibility] = string(desired.Visibility)
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func dedupe(items []models.Item) []models.Item {
	seen := make(map[string]bool, len(items))
	out := make([]models.Item, 0, len(items))
	for _, item := range items {
		if seen[item.VideoID] {
			continue
		}
		seen[item.VideoID] = true
		out = append(out, item)
	}
	return out
}

// Apply returns the snapshot produced by applying d to current, without calling any provider.
func (d Diff) Apply(current models.PlaylistSnapshot) models.PlaylistSnapshot {
	out := models.PlaylistSnapshot{
		ID:       current.ID,
		Metadata: current.Metadata,
		Items:    append([]models.Item(nil), current.Items...),
	}

	out.Items = append(out.Items, d.Additions...)

	for _, removal := range d.Removals {
		i := slices.IndexFunc(out.Items, func(it models.Item) bool {
			return removal.EntryID != "" && it.EntryID == removal.EntryID
		})
		if i < 0 {
			for j := len(out.Items) - 1; j >= 0; j-- {
				if out.Items[j].VideoID == removal.VideoID {
					i = j
					break
				}
			}
		}
		if i >= 0 {
			out.Items = slices.Delete(out.Items, i, i+1)
		}
	}

	if v, ok := d.Metadata[FieldTitle]; ok {
		out.Metadata.Title = v
	}
	if v, ok := d.Metadata[FieldDescription]; ok {
		out.Metadata.Description = v
	}
	if v, ok := d.Metadata[FieldVisibility]; ok {
		out.Metadata.Visibility = models.Visibility(v)
	}

	for _, move := range d.Reorders {
		i := slices.IndexFunc(out.Items, func(it models.Item) bool { return it.VideoID == move.Item.VideoID })
		if i < 0 {
			continue
		}
		item := out.Items[i]
		out.Items = slices.Delete(out.Items, i, i+1)
		index := min(move.Index, len(out.Items))
		out.Items = slices.Insert(out.Items, index, item)
	}

	return out
}
