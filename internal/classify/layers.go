package classify

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

// Signal names one detection layer.
type Signal string

const (
	SignalLexical   Signal = "lexical"
	SignalNarrative Signal = "narrative"
	SignalStructure Signal = "structure"
	SignalProximity Signal = "proximity"
	SignalSemantic  Signal = "semantic"
)

// Input is one sentence to classify.
type Input struct {
	Sentence  segment.Sentence
	Embedding []float32  // nil when the semantic layer is off
	Context   *html.Node // unit parent, for proximity
}

// Evidence is one layer's verdict.
type Evidence struct {
	Signal Signal
	Fired  bool
	Titles []int     // title indexes the evidence points at
	Scores []float32 // parallel to Titles, semantic only
}

// Layer is an independent predicate over a sentence.
type Layer interface {
	Signal() Signal
	Evaluate(in Input, ix *Index) Evidence
}

// Lexical fires when an enabled title name or keyword occurs.
type Lexical struct{}

func (Lexical) Signal() Signal { return SignalLexical }

func (Lexical) Evaluate(in Input, ix *Index) Evidence {
	hits := ix.Mentions(in.Sentence.Text)
	return Evidence{Signal: SignalLexical, Fired: len(hits) > 0, Titles: hits}
}

// narrativeWords is a coarse past-tense proxy. Any "-ed" word counts, so
// adjectives fire and present-tense spoilers slip through.
var (
	narrativeWords = regexp.MustCompile(`(?i)\b(was|were|had|did|became|lost|killed|married|betrayed)\b`)
	narrativeEd    = regexp.MustCompile(`(?i)\b\w+ed\b`)
)

// Narrative fires on past-tense story language.
type Narrative struct{}

func (Narrative) Signal() Signal { return SignalNarrative }

func (Narrative) Evaluate(in Input, _ *Index) Evidence {
	t := in.Sentence.Text
	return Evidence{Signal: SignalNarrative, Fired: narrativeWords.MatchString(t) || narrativeEd.MatchString(t)}
}

// Structure filters headings and labels.
type Structure struct {
	MinLength int
}

func (Structure) Signal() Signal { return SignalStructure }

func (s Structure) Evaluate(in Input, _ *Index) Evidence {
	t := in.Sentence.Text
	return Evidence{Signal: SignalStructure, Fired: utf8.RuneCountInString(t) >= s.MinLength && segment.HasTerminal(t)}
}

// Proximity walks back from the unit through previous siblings and
// parents, accumulating visible text, and fires when a title name shows up.
type Proximity struct {
	Steps int
}

func (Proximity) Signal() Signal { return SignalProximity }

func (p Proximity) Evaluate(in Input, ix *Index) Evidence {
	ev := Evidence{Signal: SignalProximity}
	el := in.Context
	collected := ""
	for steps := 0; el != nil && steps < p.Steps; steps++ {
		if prev := dom.PreviousElementSibling(el); prev != nil {
			el = prev
		} else {
			el = el.Parent
		}
		if el == nil || el.Type != html.ElementNode {
			break
		}
		if text := dom.VisibleText(el); text != "" {
			collected += " " + text
			if hits := ix.NameMentions(collected); len(hits) > 0 {
				ev.Fired = true
				ev.Titles = hits
				return ev
			}
		}
	}
	return ev
}

// Semantic compares the sentence vector with reference vectors.
type Semantic struct {
	Threshold float32
}

func (Semantic) Signal() Signal { return SignalSemantic }

func (s Semantic) Evaluate(in Input, ix *Index) Evidence {
	ev := Evidence{Signal: SignalSemantic}
	if len(in.Embedding) == 0 {
		return ev
	}
	best := ix.Similarity(in.Embedding)
	for ti := range ix.titles {
		score, ok := best[ti]
		if !ok || score < s.Threshold {
			continue
		}
		ev.Fired = true
		ev.Titles = append(ev.Titles, ti)
		ev.Scores = append(ev.Scores, score)
	}
	return ev
}
