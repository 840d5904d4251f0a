package registry

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNormalizeAssignsUniqueIDs(t *testing.T) {
	titles, err := Normalize([]TrackedTitle{
		{Name: "Dune", Enabled: true},
		{Name: "Dune", Enabled: true},
		{ID: "has space", Name: "Game of Thrones"},
		{ID: "tt123", Name: " The Batman ", Keywords: []string{" Riddler ", ""}},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	wantIDs := []string{"dune", "dune-2", "has-space", "tt123"}
	for i, id := range wantIDs {
		if titles[i].ID != id {
			t.Errorf("titles[%d].ID = %q, want %q", i, titles[i].ID, id)
		}
	}
	if titles[3].Name != "The Batman" {
		t.Errorf("name not trimmed: %q", titles[3].Name)
	}
	if len(titles[3].Keywords) != 1 || titles[3].Keywords[0] != "Riddler" {
		t.Errorf("keywords = %q", titles[3].Keywords)
	}
}

func TestNormalizeRejectsEmptyName(t *testing.T) {
	if _, err := Normalize([]TrackedTitle{{Name: "  "}}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Spider-Man: No Way Home": "spider-man-no-way-home",
		"  !!  ":                  "title",
		"Amélie":                  "amélie",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r, err := New([]TrackedTitle{{Name: "Inception", Enabled: true, Keywords: []string{"Cobb"},
		References: []Reference{{Text: "x", Embedding: []float32{1, 2}}}}}, DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	s := r.Snapshot()
	s.Titles[0].Keywords[0] = "mutated"
	s.Titles[0].References[0].Embedding[0] = 99

	again := r.Snapshot()
	if again.Titles[0].Keywords[0] != "Cobb" {
		t.Error("keyword mutation leaked into registry")
	}
	if again.Titles[0].References[0].Embedding[0] != 1 {
		t.Error("embedding mutation leaked into registry")
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	r, _ := New([]TrackedTitle{{Name: "A", Enabled: true}, {Name: "B", Enabled: true}}, DefaultSettings())
	ch, cancel := r.Subscribe()
	defer cancel()

	r.SetEnabled("a", false)
	r.SetEnabled("b", false)

	select {
	case s := <-ch:
		if s.Version != 3 {
			t.Errorf("Version = %d, want 3 (latest only)", s.Version)
		}
		if len(s.Enabled()) != 0 {
			t.Errorf("enabled = %v, want none", s.Enabled())
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	select {
	case s := <-ch:
		t.Errorf("unexpected extra snapshot v%d", s.Version)
	default:
	}
}

func TestSetEnabledNoChangeDoesNotPublish(t *testing.T) {
	r, _ := New([]TrackedTitle{{Name: "A", Enabled: true}}, DefaultSettings())
	ch, cancel := r.Subscribe()
	defer cancel()

	if !r.SetEnabled("a", true) {
		t.Fatal("SetEnabled should find id a")
	}
	if r.SetEnabled("missing", false) {
		t.Error("SetEnabled should report unknown id")
	}
	select {
	case <-ch:
		t.Error("no-op update should not publish")
	default:
	}
}

func TestWithdrawn(t *testing.T) {
	prev := Snapshot{Titles: []TrackedTitle{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: true},
		{ID: "c", Enabled: false},
		{ID: "d", Enabled: true},
	}}
	next := Snapshot{Titles: []TrackedTitle{
		{ID: "a", Enabled: false},
		{ID: "b", Enabled: true},
		{ID: "c", Enabled: true},
	}}
	got := Withdrawn(prev, next)
	if strings.Join(got, ",") != "a,d" {
		t.Errorf("Withdrawn = %v, want [a d]", got)
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	yamlDoc := `
settings:
  enabled: true
  blackout: true
  sensitivity: 0.7
titles:
  - name: Inception
    enabled: true
    keywords: [Cobb, totem]
  - name: Dune
    enabled: false
`
	titles, settings, err := Decode(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if len(titles) != 2 || titles[0].ID != "inception" || len(titles[0].Keywords) != 2 {
		t.Errorf("titles = %+v", titles)
	}
	if !settings.Blackout || settings.Sensitivity != 0.7 {
		t.Errorf("settings = %+v", settings)
	}

	jsonDoc := `{"titles": [{"id": "tt1375666", "name": "Inception", "enabled": true}]}`
	titles, settings, err = Decode(strings.NewReader(jsonDoc))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if titles[0].ID != "tt1375666" {
		t.Errorf("id = %q", titles[0].ID)
	}
	if settings != DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", settings)
	}
}

func TestDecodePartialSettingsKeepDefaults(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want Settings
	}{
		{"sensitivity only", "settings:\n  sensitivity: 0.7\ntitles:\n  - name: Inception\n", Settings{Enabled: true, Sensitivity: 0.7}},
		{"blackout only", "settings:\n  blackout: true\ntitles: []\n", Settings{Enabled: true, Blackout: true, Sensitivity: 0.4}},
		{"json disabled", `{"settings": {"enabled": false}, "titles": []}`, Settings{Enabled: false, Sensitivity: 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, settings, err := Decode(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if settings != tt.want {
				t.Errorf("settings = %+v, want %+v", settings, tt.want)
			}
		})
	}
}

func TestDecodeTitleEnabledByDefault(t *testing.T) {
	titles, _, err := Decode(strings.NewReader("titles:\n  - name: Inception\n  - name: Dune\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !titles[0].Enabled || titles[1].Enabled {
		t.Errorf("enabled = %v, %v; want true, false", titles[0].Enabled, titles[1].Enabled)
	}
}

func TestEncodeDecodeKeepsReferences(t *testing.T) {
	in := []TrackedTitle{{ID: "x", Name: "X", Enabled: true,
		References: []Reference{{Text: "X dies.", Embedding: []float32{0.5, 0.25}}}}}
	var buf bytes.Buffer
	if err := Encode(&buf, in, DefaultSettings()); err != nil {
		t.Fatal(err)
	}
	out, _, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0].References) != 1 || out[0].References[0].Embedding[1] != 0.25 {
		t.Errorf("references = %+v", out[0].References)
	}
}
