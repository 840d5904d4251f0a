// Package scan finds candidate text units in a document tree.
//
// A unit is a parent element plus the text that belongs to it directly:
// its text-node children and the text of inline highlight children such as
// <mark>. Units are produced lazily so callers can stop or yield between
// batches.
package scan

import (
	"iter"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

// MaskClass is the marker class carried by every mask element.
const MaskClass = "spoiler-blur"

// Fragment is one piece of a unit's text. Start and End are byte offsets
// into CandidateUnit.Text. Node is a text node, or the highlight element
// when Highlight is set.
type Fragment struct {
	Node      *html.Node
	Start     int
	End       int
	Highlight bool
}

// CandidateUnit is an eligible parent and its combined direct text.
type CandidateUnit struct {
	Parent    *html.Node
	Text      string
	Fragments []Fragment
}

// Current rebuilds the unit text from its fragments as they are now. The
// renderer compares it with Text to detect changes since the scan.
func (u CandidateUnit) Current() string {
	var b strings.Builder
	for _, f := range u.Fragments {
		if f.Highlight {
			b.WriteString(dom.TextContent(f.Node))
		} else {
			b.WriteString(f.Node.Data)
		}
	}
	return b.String()
}

// DefaultDeny are parents whose text is never a candidate.
var DefaultDeny = []atom.Atom{
	atom.Script, atom.Style, atom.Noscript, atom.Textarea, atom.Input, atom.Code, atom.Pre,
}

// Scanner holds eligibility thresholds.
type Scanner struct {
	MinNodeText       int
	MinSentenceLength int
	HighlightTags     []string
	Deny              []atom.Atom

	deny      map[atom.Atom]bool
	highlight map[string]bool
}

// New builds a scanner with the default denylist.
func New(minNodeText, minSentenceLength int, highlightTags []string) *Scanner {
	s := &Scanner{
		MinNodeText:       minNodeText,
		MinSentenceLength: minSentenceLength,
		HighlightTags:     highlightTags,
		Deny:              DefaultDeny,
	}
	s.init()
	return s
}

func (s *Scanner) init() {
	s.deny = make(map[atom.Atom]bool, len(s.Deny))
	for _, a := range s.Deny {
		s.deny[a] = true
	}
	s.highlight = make(map[string]bool, len(s.HighlightTags))
	for _, t := range s.HighlightTags {
		s.highlight[strings.ToLower(t)] = true
	}
}

func (s *Scanner) isHighlight(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && s.highlight[n.Data]
}

// Scan walks the subtree under root in document order and yields each
// qualifying unit at most once. The tree must not change while the
// sequence is being consumed.
func (s *Scanner) Scan(root *html.Node) iter.Seq[CandidateUnit] {
	if s.deny == nil {
		s.init()
	}
	return func(yield func(CandidateUnit) bool) {
		seen := make(map[*html.Node]bool)
		var walk func(n *html.Node) bool
		walk = func(n *html.Node) bool {
			if n.Type == html.TextNode {
				parent := s.eligible(n)
				if parent == nil || seen[parent] {
					return true
				}
				seen[parent] = true
				if u, ok := s.collect(parent); ok {
					return yield(u)
				}
				return true
			}
			if n.Type == html.ElementNode && dom.HasClass(n, MaskClass) {
				return true
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if !walk(c) {
					return false
				}
			}
			return true
		}
		// A root inside a mask has nothing to offer.
		if dom.ClosestWithClass(root, MaskClass) != nil {
			return
		}
		walk(root)
	}
}

// eligible returns the unit parent for text node n, or nil when n is
// rejected.
func (s *Scanner) eligible(n *html.Node) *html.Node {
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode {
		return nil
	}
	if s.deny[parent.DataAtom] {
		return nil
	}
	if dom.ClosestWithClass(parent, MaskClass) != nil {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(n.Data)) < s.MinNodeText {
		return nil
	}
	// Highlight text belongs to the enclosing unit.
	if s.isHighlight(parent) && parent.Parent != nil && parent.Parent.Type == html.ElementNode {
		gp := parent.Parent
		if s.deny[gp.DataAtom] {
			return nil
		}
		return gp
	}
	return parent
}

// collect merges parent's direct text children and highlight children.
func (s *Scanner) collect(parent *html.Node) (CandidateUnit, bool) {
	u := CandidateUnit{Parent: parent}
	var b strings.Builder
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			start := b.Len()
			b.WriteString(c.Data)
			u.Fragments = append(u.Fragments, Fragment{Node: c, Start: start, End: b.Len()})
		case s.isHighlight(c) && !dom.HasClass(c, MaskClass):
			text := dom.TextContent(c)
			start := b.Len()
			b.WriteString(text)
			u.Fragments = append(u.Fragments, Fragment{Node: c, Start: start, End: b.Len(), Highlight: true})
		}
	}
	u.Text = b.String()
	if utf8.RuneCountInString(strings.TrimSpace(u.Text)) < s.MinSentenceLength {
		return CandidateUnit{}, false
	}
	if !segment.HasTerminal(u.Text) {
		return CandidateUnit{}, false
	}
	return u, true
}
