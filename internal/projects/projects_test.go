package projects

import (
	"errors"
	"testing"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

// fakeQuota is an in-memory Quota keyed by project name.
type fakeQuota struct {
	remaining map[string]int
	exhausted []string
}

func (f *fakeQuota) Remaining(project string) int {
	if r, ok := f.remaining[project]; ok {
		return r
	}
	return 10000
}

func (f *fakeQuota) MarkExhausted(project string) error {
	f.exhausted = append(f.exhausted, project)
	f.remaining[project] = 0
	return nil
}

type fakeRecorder struct {
	created []models.ContextSwitch
}

func (f *fakeRecorder) Create(s *models.ContextSwitch) error {
	f.created = append(f.created, *s)
	return nil
}

var testProjects = []models.Project{
	{Name: "personal-2", QuotaGroup: "personal", Environment: "prod", Priority: 1},
	{Name: "personal-1", QuotaGroup: "personal", Environment: "prod", Priority: 0},
	{Name: "personal-dev", QuotaGroup: "personal", Environment: "dev", Priority: 0},
	{Name: "work-1", QuotaGroup: "work", Environment: "prod", Priority: 0},
}

func TestSelect(t *testing.T) {
	tt := []struct {
		name      string
		remaining map[string]int
		group     string
		env       string
		want      string
		wantErr   error
	}{
		{name: "lowest priority wins", group: "personal", env: "prod", want: "personal-1"},
		{name: "name breaks ties", group: "personal", want: "personal-1"},
		{name: "skips exhausted", remaining: map[string]int{"personal-1": 0}, group: "personal", env: "prod", want: "personal-2"},
		{name: "environment filter", group: "personal", env: "dev", want: "personal-dev"},
		{name: "other group", group: "work", want: "work-1"},
		{name: "group exhausted", remaining: map[string]int{"work-1": 0}, group: "work", wantErr: ErrNoCredential},
		{name: "unknown group", group: "nope", wantErr: ErrNoCredential},
		{name: "ambiguous group", group: "", wantErr: shared.ErrMissingArgument},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQuota{remaining: map[string]int{}}
			for k, v := range tc.remaining {
				q.remaining[k] = v
			}

			got, err := NewSelector(testProjects, q, nil, nil).Select(tc.group, tc.env)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got.Name != tc.want {
				t.Errorf("Select() = %s, want %s", got.Name, tc.want)
			}
		})
	}

	t.Run("single group needs no flag", func(t *testing.T) {
		q := &fakeQuota{remaining: map[string]int{}}
		got, err := NewSelector(testProjects[:2], q, nil, nil).Select("", "")
		if err != nil || got.Name != "personal-1" {
			t.Fatalf("Select() = %s, %v", got.Name, err)
		}
	})

	t.Run("no projects", func(t *testing.T) {
		q := &fakeQuota{remaining: map[string]int{}}
		if _, err := NewSelector(nil, q, nil, nil).Select("", ""); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestForce(t *testing.T) {
	q := &fakeQuota{remaining: map[string]int{"personal-2": 0}}
	s := NewSelector(testProjects, q, nil, nil)

	got, err := s.Force("personal-2")
	if err != nil || got.Name != "personal-2" {
		t.Fatalf("Force() = %s, %v", got.Name, err)
	}

	if _, err := s.Force("missing"); !errors.Is(err, shared.ErrUnknownProject) {
		t.Fatalf("expected ErrUnknownProject, got %v", err)
	}
}

func TestHandleExhaustion(t *testing.T) {
	t.Run("switches to sibling in same group", func(t *testing.T) {
		q := &fakeQuota{remaining: map[string]int{}}
		rec := &fakeRecorder{}
		s := NewSelector(testProjects, q, rec, nil)

		current, _ := s.Force("personal-1")
		next, err := s.HandleExhaustion("batch-1", current)
		if err != nil {
			t.Fatalf("HandleExhaustion() error = %v", err)
		}
		if next == nil || next.Name != "personal-2" {
			t.Fatalf("expected personal-2, got %+v", next)
		}
		if len(q.exhausted) != 1 || q.exhausted[0] != "personal-1" {
			t.Errorf("expected personal-1 marked exhausted, got %v", q.exhausted)
		}
		if len(rec.created) != 1 || rec.created[0].ToProject != "personal-2" || rec.created[0].BatchID != "batch-1" {
			t.Errorf("unexpected recorded switches %+v", rec.created)
		}
	})

	t.Run("never crosses quota groups", func(t *testing.T) {
		q := &fakeQuota{remaining: map[string]int{"personal-2": 0, "personal-dev": 0}}
		s := NewSelector(testProjects, q, &fakeRecorder{}, nil)

		current, _ := s.Force("personal-1")
		next, err := s.HandleExhaustion("batch-1", current)
		if err != nil {
			t.Fatalf("HandleExhaustion() error = %v", err)
		}
		if next != nil {
			t.Fatalf("expected no replacement, got %s (group %s)", next.Name, next.QuotaGroup)
		}

		switches := s.Switches()
		if len(switches) != 1 || switches[0].Found() {
			t.Errorf("expected one unfound switch, got %+v", switches)
		}
	})

	t.Run("every result stays in group", func(t *testing.T) {
		for _, p := range testProjects {
			q := &fakeQuota{remaining: map[string]int{}}
			s := NewSelector(testProjects, q, nil, nil)
			for {
				next, err := s.HandleExhaustion("b", p)
				if err != nil {
					t.Fatalf("HandleExhaustion() error = %v", err)
				}
				if next == nil {
					break
				}
				if next.QuotaGroup != p.QuotaGroup {
					t.Fatalf("crossed groups: %s -> %s", p.QuotaGroup, next.QuotaGroup)
				}
				p = *next
			}
		}
	})
}

func TestFromConfig(t *testing.T) {
	got := FromConfig([]shared.ProjectConfig{{Name: "a", QuotaGroup: "g", Priority: 2, DailyBudget: 5}})
	if len(got) != 1 || got[0].Name != "a" || got[0].QuotaGroup != "g" || got[0].Priority != 2 || got[0].Budget() != 5 {
		t.Errorf("unexpected projects %+v", got)
	}
}
