package diff

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/desertthunder/ytq/internal/models"
)

func snapshot(ids ...string) models.PlaylistSnapshot {
	items := make([]models.Item, len(ids))
	for i, id := range ids {
		items[i] = models.Item{VideoID: id, EntryID: "entry-" + id + fmt.Sprint(i)}
	}
	return models.PlaylistSnapshot{
		ID:       "PL1",
		Metadata: models.Metadata{Title: "Mix", Description: "desc", Visibility: models.VisibilityPrivate},
		Items:    items,
	}
}

func ids(items []models.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.VideoID
	}
	return out
}

func assertRoundTrip(t *testing.T, current, desired models.PlaylistSnapshot) Diff {
	t.Helper()

	d := Compute(current, desired)
	got := d.Apply(current)

	want := ids(dedupe(desired.Items))
	if !slices.Equal(ids(got.Items), want) {
		t.Fatalf("Apply() items = %v, want %v (diff %+v)", ids(got.Items), want, d)
	}
	if desired.Metadata.Title != "" && got.Metadata.Title != desired.Metadata.Title {
		t.Errorf("title = %q, want %q", got.Metadata.Title, desired.Metadata.Title)
	}
	if got.Metadata.Description != desired.Metadata.Description {
		t.Errorf("description = %q, want %q", got.Metadata.Description, desired.Metadata.Description)
	}
	if desired.Metadata.Visibility != "" && got.Metadata.Visibility != desired.Metadata.Visibility {
		t.Errorf("visibility = %q, want %q", got.Metadata.Visibility, desired.Metadata.Visibility)
	}
	return d
}

// slowLIS is the quadratic reference used to check minimality.
func slowLIS(xs []int) int {
	if len(xs) == 0 {
		return 0
	}
	best := make([]int, len(xs))
	longest := 0
	for i := range xs {
		best[i] = 1
		for j := 0; j < i; j++ {
			if xs[j] < xs[i] && best[j]+1 > best[i] {
				best[i] = best[j] + 1
			}
		}
		longest = max(longest, best[i])
	}
	return longest
}

func TestCompute(t *testing.T) {
	t.Run("identical snapshots produce empty diff", func(t *testing.T) {
		for _, s := range []models.PlaylistSnapshot{snapshot(), snapshot("a"), snapshot("a", "b", "c", "d")} {
			d := Compute(s, s)
			if !d.Empty() {
				t.Errorf("Compute(X, X) = %+v, want empty", d)
			}
			if d.Cost() != 0 {
				t.Errorf("Cost() = %d, want 0", d.Cost())
			}
		}
	})

	tt := []struct {
		name                         string
		current, desired             []string
		additions, removals, reorder int
	}{
		{name: "append", current: []string{"a", "b"}, desired: []string{"a", "b", "c"}, additions: 1},
		{name: "remove", current: []string{"a", "b", "c"}, desired: []string{"a", "c"}, removals: 1},
		{name: "swap", current: []string{"a", "b"}, desired: []string{"b", "a"}, reorder: 1},
		{name: "reverse pairs", current: []string{"D", "C", "A", "B"}, desired: []string{"A", "B", "C", "D"}, reorder: 2},
		{name: "rotate", current: []string{"e", "a", "b", "c", "d"}, desired: []string{"a", "b", "c", "d", "e"}, reorder: 1},
		{name: "prepend", current: []string{"b", "c"}, desired: []string{"a", "b", "c"}, additions: 1, reorder: 1},
		{name: "disjoint", current: []string{"a", "b"}, desired: []string{"x", "y", "z"}, additions: 3, removals: 2},
		{name: "from empty", current: nil, desired: []string{"a", "b"}, additions: 2},
		{name: "to empty", current: []string{"a", "b"}, desired: nil, removals: 2},
		{name: "duplicate desired", current: []string{"a"}, desired: []string{"a", "b", "a"}, additions: 1},
		{name: "duplicate current", current: []string{"a", "b", "a"}, desired: []string{"a", "b"}, removals: 1},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			current, desired := snapshot(tc.current...), snapshot(tc.desired...)
			d := assertRoundTrip(t, current, desired)

			if len(d.Additions) != tc.additions || len(d.Removals) != tc.removals || len(d.Reorders) != tc.reorder {
				t.Errorf("got +%d -%d ~%d, want +%d -%d ~%d",
					len(d.Additions), len(d.Removals), len(d.Reorders), tc.additions, tc.removals, tc.reorder)
			}
		})
	}

	t.Run("metadata changes", func(t *testing.T) {
		current := snapshot("a")
		desired := snapshot("a")
		desired.Metadata.Title = "New"
		desired.Metadata.Visibility = models.VisibilityPublic

		d := assertRoundTrip(t, current, desired)
		if len(d.Metadata) != 2 || d.Metadata[FieldTitle] != "New" || d.Metadata[FieldVisibility] != "public" {
			t.Errorf("unexpected metadata %v", d.Metadata)
		}
		if _, ok := d.Metadata[FieldDescription]; ok {
			t.Error("unchanged description should be omitted")
		}
		if d.Cost() != 50 {
			t.Errorf("Cost() = %d, want 50", d.Cost())
		}
	})

	t.Run("empty title leaves title alone", func(t *testing.T) {
		current := snapshot("a")
		desired := snapshot("a")
		desired.Metadata.Title = ""
		if d := Compute(current, desired); !d.Empty() {
			t.Errorf("expected empty diff, got %+v", d)
		}
	})

	t.Run("removals keep entry ids", func(t *testing.T) {
		current := snapshot("a", "b")
		d := Compute(current, snapshot("a"))
		if len(d.Removals) != 1 || d.Removals[0].EntryID != current.Items[1].EntryID {
			t.Errorf("unexpected removals %+v", d.Removals)
		}
	})

	t.Run("cost counts every write", func(t *testing.T) {
		d := Compute(snapshot("a", "b", "c"), snapshot("c", "x", "a"))
		want := 50 * (len(d.Additions) + len(d.Removals) + len(d.Reorders))
		if d.Cost() != want || d.Writes() != want/50 {
			t.Errorf("Cost() = %d, Writes() = %d, want %d", d.Cost(), d.Writes(), want)
		}
	})
}

func TestComputeGenerated(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	pool := make([]string, 30)
	for i := range pool {
		pool[i] = fmt.Sprintf("v%02d", i)
	}

	pick := func() []string {
		n := r.IntN(len(pool) + 1)
		out := make([]string, n)
		for i := range out {
			out[i] = pool[r.IntN(len(pool))]
		}
		return out
	}

	for i := 0; i < 500; i++ {
		current, desired := snapshot(pick()...), snapshot(pick()...)

		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			d := assertRoundTrip(t, current, desired)

			// Reorders are minimal: every item outside one longest increasing run moves once.
			want := dedupe(desired.Items)
			pos := make(map[string]int, len(want))
			for j, item := range want {
				pos[item.VideoID] = j
			}
			var ranks []int
			seen := map[string]bool{}
			for _, item := range current.Items {
				if _, ok := pos[item.VideoID]; ok && !seen[item.VideoID] {
					seen[item.VideoID] = true
					ranks = append(ranks, pos[item.VideoID])
				}
			}
			for _, item := range d.Additions {
				ranks = append(ranks, pos[item.VideoID])
			}
			if got, minimal := len(d.Reorders), len(ranks)-slowLIS(ranks); got != minimal {
				t.Errorf("reorders = %d, want %d", got, minimal)
			}

			if !Compute(desired, desired).Empty() {
				t.Error("Compute(X, X) should be empty")
			}
		})
	}
}

func TestLIS(t *testing.T) {
	tt := []struct {
		in   []int
		want int
	}{
		{nil, 0},
		{[]int{0}, 1},
		{[]int{3, 2, 0, 1}, 2},
		{[]int{0, 1, 2, 3}, 4},
		{[]int{4, 0, 1, 2, 3}, 4},
		{[]int{2, 5, 1, 3, 4, 0}, 3},
	}

	for _, tc := range tt {
		got := lis(tc.in)
		if len(got) != tc.want {
			t.Errorf("lis(%v) = %v, want length %d", tc.in, got, tc.want)
		}
		if !slices.IsSorted(got) {
			t.Errorf("lis(%v) = %v is not increasing", tc.in, got)
		}
	}
}
