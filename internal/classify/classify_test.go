package classify

import (
	"math"
	"slices"
	"testing"

	"golang.org/x/net/html/atom"

	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

func snapshot(titles ...registry.TrackedTitle) registry.Snapshot {
	norm, err := registry.Normalize(titles)
	if err != nil {
		panic(err)
	}
	return registry.Snapshot{Version: 1, Titles: norm, Settings: registry.DefaultSettings()}
}

func sentence(text string) Input {
	return Input{Sentence: segment.Sentence{Text: text, Start: 0, End: len(text)}}
}

func basic() *Classifier {
	return New(Options{Mode: ModeBasic, MinSentenceLength: 40, RequireMention: true})
}

func TestBasicScenarios(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "Inception", Enabled: true}))

	tests := []struct {
		name  string
		text  string
		match bool
	}{
		{"spoiler", "Inception was a mind-bending heist film that ended with Cobb spinning a top.", true},
		{"wishlist", "Inception is a movie I want to watch.", false},
		{"no mention", "The hero was betrayed by his closest friend in the final act.", false},
		{"no terminal", "Inception was a mind-bending heist film that ended with a spinning top", false},
		{"case insensitive", "in the end INCEPTION revealed that the dream had never really stopped.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := basic().Classify(sentence(tt.text), ix)
			if ok != tt.match {
				t.Fatalf("match = %v, want %v (%+v)", ok, tt.match, m)
			}
			if ok {
				if m.TitleID != "inception" || m.Confidence != 1.0 {
					t.Errorf("match = %+v", m)
				}
				if !slices.Contains(m.Signals, SignalNarrative) || !slices.Contains(m.Signals, SignalLexical) {
					t.Errorf("signals = %v", m.Signals)
				}
			}
		})
	}
}

func TestDisabledTitleNeverMatches(t *testing.T) {
	ix := NewIndex(snapshot(
		registry.TrackedTitle{Name: "Breaking Bad", Enabled: false, Keywords: []string{"Heisenberg"}},
		registry.TrackedTitle{Name: "Dune", Enabled: true},
	))
	text := "In Breaking Bad, Heisenberg was killed by his own machine gun in the final episode."
	if m, ok := basic().Classify(sentence(text), ix); ok {
		t.Errorf("disabled title matched: %+v", m)
	}

	blackout := New(Options{Mode: ModeBasic, MinSentenceLength: 40, RequireMention: true, Blackout: true})
	if _, ok := blackout.Classify(sentence(text), ix); ok {
		t.Error("disabled title matched in blackout mode")
	}
}

func TestKeywordMention(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "Harry Potter", Enabled: true, Keywords: []string{"Dumbledore"}}))
	m, ok := basic().Classify(sentence("Snape was the one who killed Dumbledore on top of the tower."), ix)
	if !ok || m.TitleID != "harry-potter" {
		t.Fatalf("got %+v, %v", m, ok)
	}
}

func TestBlackoutDropsNarrativeRequirement(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "Severance", Enabled: true}))
	text := "Everyone keeps talking about Severance and its office mysteries now."
	if _, ok := basic().Classify(sentence(text), ix); ok {
		t.Fatal("basic mode should need a narrative signal")
	}
	blackout := New(Options{Mode: ModeBasic, MinSentenceLength: 40, RequireMention: true, Blackout: true})
	if _, ok := blackout.Classify(sentence(text), ix); !ok {
		t.Error("blackout mode should mask any mention")
	}
}

func TestSemanticScenario(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{
		Name: "Title Y", Enabled: true,
		References: []registry.Reference{{Text: "ref", Embedding: []float32{1, 0}}},
	}))
	c := New(Options{Mode: ModeSemantic, MinSentenceLength: 40, RequireMention: true, Threshold: 0.6})

	in := sentence("Title Y ends when the captain turns out to be the traitor all along.")
	in.Embedding = []float32{0.81, float32(math.Sqrt(1 - 0.81*0.81))}
	m, ok := c.Classify(in, ix)
	if !ok {
		t.Fatal("expected semantic match")
	}
	if math.Abs(m.Confidence-0.81) > 1e-4 {
		t.Errorf("Confidence = %v, want 0.81", m.Confidence)
	}
	if !slices.Contains(m.Signals, SignalSemantic) {
		t.Errorf("signals = %v", m.Signals)
	}

	// No narrative or proximity support, so a weak similarity is no match.
	in.Embedding = []float32{0.5, float32(math.Sqrt(1 - 0.25))}
	if m, ok := c.Classify(in, ix); ok {
		t.Errorf("below-threshold similarity matched: %+v", m)
	}
}

func TestSemanticBestTitleWins(t *testing.T) {
	ix := NewIndex(snapshot(
		registry.TrackedTitle{Name: "Alpha", Enabled: true, References: []registry.Reference{{Embedding: []float32{1, 0, 0}}}},
		registry.TrackedTitle{Name: "Beta", Enabled: true, References: []registry.Reference{{Embedding: []float32{0, 1, 0}}}},
	))
	c := New(Options{Mode: ModeSemantic, MinSentenceLength: 40, RequireMention: false, Threshold: 0.5})
	in := sentence("The ship's captain was secretly the villain the whole time.")
	in.Embedding = []float32{0.2, 0.9, 0.1}
	m, ok := c.Classify(in, ix)
	if !ok || m.TitleID != "beta" {
		t.Fatalf("got %+v, %v", m, ok)
	}
}

func TestNoAttributableTitleIsRejected(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "Alpha", Enabled: true}))
	c := New(Options{Mode: ModeBasic, MinSentenceLength: 40, RequireMention: false})
	if m, ok := c.Classify(sentence("The hero was betrayed by his closest friend in the final act."), ix); ok {
		t.Errorf("match without title: %+v", m)
	}
}

func TestMissingEmbeddingsFallBackToHeuristics(t *testing.T) {
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "Dune", Enabled: true}))
	if ix.HasSemantic() {
		t.Fatal("no references, no semantic layer")
	}
	c := New(Options{Mode: ModeSemantic, MinSentenceLength: 40, RequireMention: true, Threshold: 0.6})
	in := sentence("Dune ended with Paul riding the sandworm into the final battle.")
	in.Embedding = []float32{1, 0}
	if _, ok := c.Classify(in, ix); !ok {
		t.Error("heuristic layers should still match")
	}
}

func TestProximity(t *testing.T) {
	d, err := dom.ParseString(`<body>
<h3>Thread: The Last of Us finale</h3>
<div class="comments">
  <p>I cannot believe the hospital scene.</p>
  <p>Joel lied to her about the fireflies and everyone hated that ending.</p>
</div>
</body>`)
	if err != nil {
		t.Fatal(err)
	}
	target := dom.FindElement(d.Body(), atom.Div).LastChild
	for target != nil && target.DataAtom != atom.P {
		target = target.PrevSibling
	}
	ix := NewIndex(snapshot(registry.TrackedTitle{Name: "The Last of Us", Enabled: true}))
	in := sentence("Joel lied to her about the fireflies and everyone hated that ending.")
	in.Context = target

	ev := Proximity{Steps: 12}.Evaluate(in, ix)
	if !ev.Fired || len(ev.Titles) != 1 {
		t.Fatalf("proximity = %+v", ev)
	}
	if ev := (Proximity{Steps: 1}).Evaluate(in, ix); ev.Fired {
		t.Error("one step should only reach the previous comment")
	}

	c := New(Options{Mode: ModeSemantic, MinSentenceLength: 40, RequireMention: true, ProximityMention: true, Threshold: 0.6})
	m, ok := c.Classify(in, ix)
	if !ok || m.TitleID != "the-last-of-us" {
		t.Fatalf("got %+v, %v", m, ok)
	}
	strict := New(Options{Mode: ModeSemantic, MinSentenceLength: 40, RequireMention: true, Threshold: 0.6})
	if _, ok := strict.Classify(in, ix); ok {
		t.Error("proximity alone should not satisfy a required lexical mention")
	}
}

func TestGraphSearch(t *testing.T) {
	var refs []registry.Reference
	for i := 0; i < graphMinRefs; i++ {
		v := make([]float32, 8)
		v[0] = 1
		v[1+i%6] = float32(i+1) / graphMinRefs
		refs = append(refs, registry.Reference{Embedding: v})
	}
	target := []float32{0, 0, 0, 0, 0, 0, 0.2, 1}
	ix := NewIndex(snapshot(
		registry.TrackedTitle{Name: "Crowd", Enabled: true, References: refs},
		registry.TrackedTitle{Name: "Needle", Enabled: true, References: []registry.Reference{{Embedding: target}}},
	))
	if ix.graph == nil {
		t.Fatal("graph not built")
	}
	best := ix.Similarity(target)
	if s := best[1]; s < 0.999 {
		t.Errorf("needle score = %v, want ~1", s)
	}
	if s, ok := best[0]; ok && s > 0.5 {
		t.Errorf("crowd score = %v, want low", s)
	}
}

func TestMixedDimensionsIgnored(t *testing.T) {
	ix := NewIndex(snapshot(
		registry.TrackedTitle{Name: "A", Enabled: true, References: []registry.Reference{{Embedding: []float32{1, 0}}}},
		registry.TrackedTitle{Name: "B", Enabled: true, References: []registry.Reference{{Embedding: []float32{1, 0, 0}}}},
	))
	if ix.Dims() != 2 || len(ix.refs) != 1 {
		t.Errorf("dims = %d refs = %d", ix.Dims(), len(ix.refs))
	}
	if got := ix.Similarity([]float32{1, 0, 0}); got != nil {
		t.Errorf("mismatched query should score nothing, got %v", got)
	}
}
