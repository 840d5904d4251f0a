// Package registry holds the tracked-title list and protection settings.
//
// The registry is the only writer; consumers receive deep-copied Snapshots
// through Subscribe and must treat them as read-only. Every change publishes
// a complete snapshot so consumers re-derive their working set instead of
// patching it.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Reference is a known plot sentence for a title. Embedding stays nil until
// the enricher (or the registry file) supplies it.
type Reference struct {
	Text      string    `json:"text" yaml:"text"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
}

// TrackedTitle is one protected movie or series.
type TrackedTitle struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
	Keywords   []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Plot       string      `json:"plot,omitempty" yaml:"plot,omitempty"`
	References []Reference `json:"references,omitempty" yaml:"references,omitempty"`
}

// HasEmbeddings reports whether any reference sentence carries a vector.
func (t TrackedTitle) HasEmbeddings() bool {
	for _, r := range t.References {
		if len(r.Embedding) > 0 {
			return true
		}
	}
	return false
}

// Settings are the user-facing protection switches.
type Settings struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Blackout    bool    `json:"blackout" yaml:"blackout"`
	Sensitivity float64 `json:"sensitivity" yaml:"sensitivity"`
}

// DefaultSettings mirrors the extension's first-run state.
func DefaultSettings() Settings {
	return Settings{Enabled: true, Sensitivity: 0.4}
}

// Snapshot is an immutable view of the registry at one version.
type Snapshot struct {
	Version  uint64
	Titles   []TrackedTitle
	Settings Settings
}

// Enabled returns the enabled titles in registry order.
func (s Snapshot) Enabled() []TrackedTitle {
	out := make([]TrackedTitle, 0, len(s.Titles))
	for _, t := range s.Titles {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Title looks up a title by ID.
func (s Snapshot) Title(id string) (TrackedTitle, bool) {
	for _, t := range s.Titles {
		if t.ID == id {
			return t, true
		}
	}
	return TrackedTitle{}, false
}

// Withdrawn returns the IDs that were enabled in prev but are disabled or
// absent in next. Their masks must be removed.
func Withdrawn(prev, next Snapshot) []string {
	var out []string
	for _, old := range prev.Titles {
		if !old.Enabled {
			continue
		}
		cur, ok := next.Title(old.ID)
		if !ok || !cur.Enabled {
			out = append(out, old.ID)
		}
	}
	return out
}

// Registry is the mutable source of snapshots. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a registry. Titles are validated and given IDs.
func New(titles []TrackedTitle, settings Settings) (*Registry, error) {
	norm, err := Normalize(titles)
	if err != nil {
		return nil, err
	}
	return &Registry{
		snap: Snapshot{Version: 1, Titles: norm, Settings: settings},
		subs: make(map[int]chan Snapshot),
	}, nil
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.clone()
}

// Subscribe returns a channel that receives every new snapshot. The channel
// holds one element; a slow consumer only ever sees the latest snapshot.
// Call the returned func to unsubscribe.
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Snapshot, 1)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Replace swaps the whole title list.
func (r *Registry) Replace(titles []TrackedTitle) error {
	norm, err := Normalize(titles)
	if err != nil {
		return err
	}
	r.update(func(s *Snapshot) bool {
		s.Titles = norm
		return true
	})
	return nil
}

// SetSettings replaces the protection settings.
func (r *Registry) SetSettings(settings Settings) {
	r.update(func(s *Snapshot) bool {
		s.Settings = settings
		return true
	})
}

// SetEnabled toggles one title. It reports false when the ID is unknown.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	found := false
	r.update(func(s *Snapshot) bool {
		for i := range s.Titles {
			if s.Titles[i].ID == id {
				found = true
				if s.Titles[i].Enabled == enabled {
					return false
				}
				s.Titles[i].Enabled = enabled
				return true
			}
		}
		return false
	})
	return found
}

// SetReferences replaces a title's reference sentences, typically once their
// embeddings are available.
func (r *Registry) SetReferences(id string, refs []Reference) bool {
	found := false
	r.update(func(s *Snapshot) bool {
		for i := range s.Titles {
			if s.Titles[i].ID == id {
				found = true
				s.Titles[i].References = cloneRefs(refs)
				return true
			}
		}
		return false
	})
	return found
}

// update applies fn under the write lock and publishes when fn reports a change.
func (r *Registry) update(fn func(*Snapshot) bool) {
	r.mu.Lock()
	next := r.snap.clone()
	if !fn(&next) {
		r.mu.Unlock()
		return
	}
	next.Version = r.snap.Version + 1
	r.snap = next
	subs := make([]chan Snapshot, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		publish(ch, next.clone())
	}
}

// publish delivers s, replacing any snapshot the consumer has not read yet.
func publish(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Normalize validates titles and assigns unique, whitespace-free IDs.
// Duplicate names are kept as independent entries.
func Normalize(titles []TrackedTitle) ([]TrackedTitle, error) {
	out := make([]TrackedTitle, 0, len(titles))
	seen := make(map[string]int)
	for i, t := range titles {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("registry: title %d has empty name", i+1)
		}
		id := strings.TrimSpace(t.ID)
		if id == "" || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
			id = Slug(firstNonEmpty(id, t.Name))
		}
		base := id
		for n := 2; seen[id] > 0; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		seen[id]++
		t.ID = id

		kws := make([]string, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				kws = append(kws, k)
			}
		}
		t.Keywords = kws
		t.References = cloneRefs(t.References)
		out = append(out, t)
	}
	return out, nil
}

// Slug lower-cases s and joins its letters and digits with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		out = "title"
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Version: s.Version, Settings: s.Settings}
	out.Titles = make([]TrackedTitle, len(s.Titles))
	for i, t := range s.Titles {
		t.Keywords = append([]string(nil), t.Keywords...)
		t.References = cloneRefs(t.References)
		out.Titles[i] = t
	}
	return out
}

func cloneRefs(refs []Reference) []Reference {
	if refs == nil {
		return nil
	}
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = Reference{Text: r.Text, Embedding: append([]float32(nil), r.Embedding...)}
	}
	return out
}
