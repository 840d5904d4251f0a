// Package classify decides whether a sentence spoils a tracked title.
//
// Detection is an ordered list of independent layers (lexical, narrative,
// structure, proximity, semantic). Each layer produces Evidence; a fixed
// policy combines them:
//
//	match = structure AND mention AND support
//	mention = lexical (or proximity when configured, or always when not required)
//	support = narrative OR proximity OR semantic (always true in blackout)
//
// Classify has no side effects. Everything it needs comes from its Input
// and the Index built from one registry snapshot.
package classify

import (
	"github.com/abelbrown/spoilerguard/internal/segment"
)

// Mode selects the layer set.
type Mode string

const (
	// ModeBasic uses lexical, narrative and structure layers, no network.
	ModeBasic Mode = "basic"
	// ModeSemantic adds proximity and similarity.
	ModeSemantic Mode = "semantic"
)

// Options tune the policy.
type Options struct {
	Mode              Mode
	MinSentenceLength int
	ProximitySteps    int
	ProximityMention  bool
	RequireMention    bool
	Blackout          bool
	Threshold         float64
}

// Match is a positive classification.
type Match struct {
	Sentence   segment.Sentence
	TitleID    string
	TitleIDs   []string // every title the sentence is attributed to, TitleID first
	Confidence float64
	Signals    []Signal // layers that fired
}

// Classifier runs the layer pipeline.
type Classifier struct {
	opts   Options
	layers []Layer
}

// New builds a classifier for opts.
func New(opts Options) *Classifier {
	if opts.MinSentenceLength <= 0 {
		opts.MinSentenceLength = segment.DefaultMinLength
	}
	if opts.ProximitySteps <= 0 {
		opts.ProximitySteps = 12
	}
	layers := []Layer{
		Structure{MinLength: opts.MinSentenceLength},
		Lexical{},
		Narrative{},
	}
	if opts.Mode == ModeSemantic {
		layers = append(layers,
			Proximity{Steps: opts.ProximitySteps},
			Semantic{Threshold: float32(opts.Threshold)},
		)
	}
	return &Classifier{opts: opts, layers: layers}
}

// Options returns the policy options.
func (c *Classifier) Options() Options { return c.opts }

// Layers returns the active layers in evaluation order.
func (c *Classifier) Layers() []Layer { return c.layers }

// Semantic reports whether the classifier uses sentence embeddings.
func (c *Classifier) Semantic() bool { return c.opts.Mode == ModeSemantic }

// Classify returns the match for in, if any.
func (c *Classifier) Classify(in Input, ix *Index) (Match, bool) {
	if ix == nil || ix.Empty() {
		return Match{}, false
	}
	evs := make(map[Signal]Evidence, len(c.layers))
	for _, l := range c.layers {
		ev := l.Evaluate(in, ix)
		evs[l.Signal()] = ev
		// Structure is a hard gate; skip the rest.
		if l.Signal() == SignalStructure && !ev.Fired {
			return Match{}, false
		}
	}
	return c.decide(in.Sentence, evs, ix)
}

// NeedsEmbedding reports whether in can still match, so an embedding for
// it is worth fetching. Sentences that fail the structure or mention gates
// never match whatever their similarity.
func (c *Classifier) NeedsEmbedding(in Input, ix *Index) bool {
	if ix == nil || ix.Empty() {
		return false
	}
	if !(Structure{MinLength: c.opts.MinSentenceLength}).Evaluate(in, ix).Fired {
		return false
	}
	if !c.opts.RequireMention || (Lexical{}).Evaluate(in, ix).Fired {
		return true
	}
	return c.opts.ProximityMention && (Proximity{Steps: c.opts.ProximitySteps}).Evaluate(in, ix).Fired
}

// ClassifyAll classifies every sentence and returns the matches in order.
func (c *Classifier) ClassifyAll(inputs []Input, ix *Index) []Match {
	var out []Match
	for _, in := range inputs {
		if m, ok := c.Classify(in, ix); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Classifier) decide(s segment.Sentence, evs map[Signal]Evidence, ix *Index) (Match, bool) {
	lex := evs[SignalLexical]
	narr := evs[SignalNarrative]
	prox := evs[SignalProximity]
	sem := evs[SignalSemantic]

	if !evs[SignalStructure].Fired {
		return Match{}, false
	}
	mention := lex.Fired || (c.opts.ProximityMention && prox.Fired) || !c.opts.RequireMention
	if !mention {
		return Match{}, false
	}
	support := c.opts.Blackout || narr.Fired || prox.Fired || sem.Fired
	if !support {
		return Match{}, false
	}

	var order []int
	seen := make(map[int]bool)
	push := func(ts ...int) {
		for _, t := range ts {
			if !seen[t] {
				seen[t] = true
				order = append(order, t)
			}
		}
	}

	confidence := 1.0
	if sem.Fired {
		best := 0
		for i, score := range sem.Scores {
			if score > sem.Scores[best] {
				best = i
			}
		}
		confidence = float64(sem.Scores[best])
		push(sem.Titles[best])
	}
	push(lex.Titles...)
	if prox.Fired && (!lex.Fired || c.opts.ProximityMention) {
		push(prox.Titles...)
	}
	if sem.Fired {
		push(sem.Titles...)
	}
	// Nothing to attribute the mask to.
	if len(order) == 0 {
		return Match{}, false
	}

	titles := ix.Titles()
	m := Match{Sentence: s, Confidence: clamp01(confidence)}
	for _, ti := range order {
		m.TitleIDs = append(m.TitleIDs, titles[ti].ID)
	}
	m.TitleID = m.TitleIDs[0]
	for _, l := range c.layers {
		if evs[l.Signal()].Fired {
			m.Signals = append(m.Signals, l.Signal())
		}
	}
	return m, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
