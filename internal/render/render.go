// Package render masks matched sentences in place and restores them.
//
// A mask is a <span class="spoiler-blur"> holding the exact nodes of the
// matched sentence. Partial text nodes are split at sentence offsets so no
// text outside the match changes. Every write is tagged OriginRenderer so
// the scheduler never rescans because of its own output.
package render

import (
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/abelbrown/spoilerguard/internal/classify"
	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/scan"
)

// Mask element attributes. The class is the only marker other code relies on.
const (
	MaskClass      = scan.MaskClass
	AttrTitles     = "data-spoiler-titles"
	AttrState      = "data-spoiler-state"
	AttrReveal     = "data-spoiler-reveal"
	AttrConfidence = "data-spoiler-confidence"
)

// State is the visual state of a mask.
type State string

const (
	StateMasked   State = "masked"
	StateRevealed State = "revealed"
)

// RevealMode selects the reveal interaction.
type RevealMode string

const (
	RevealHover RevealMode = "hover"
	RevealClick RevealMode = "click"
)

// Renderer applies and removes masks on one document.
type Renderer struct {
	doc    *dom.Document
	reveal RevealMode
}

// New returns a renderer for doc. Unknown modes fall back to hover.
func New(doc *dom.Document, mode RevealMode) *Renderer {
	if mode != RevealClick {
		mode = RevealHover
	}
	return &Renderer{doc: doc, reveal: mode}
}

// Document returns the document the renderer writes to.
func (r *Renderer) Document() *dom.Document { return r.doc }

// Applied pairs a created mask with the match it hides.
type Applied struct {
	Mask  *html.Node
	Match classify.Match
}

// ApplyMask masks one sentence of u. It returns nil when the unit is
// stale or the sentence boundary cannot be cut cleanly.
func (r *Renderer) ApplyMask(u scan.CandidateUnit, m classify.Match) *html.Node {
	applied := r.ApplyMasks(u, []classify.Match{m})
	if len(applied) == 0 {
		return nil
	}
	return applied[0].Mask
}

// ApplyMasks masks every matched sentence of u in one pass and returns the
// created masks in document order. The unit is skipped entirely when it was
// detached, already holds a mask, or changed since it was scanned.
func (r *Renderer) ApplyMasks(u scan.CandidateUnit, matches []classify.Match) []Applied {
	if len(matches) == 0 || !r.fresh(u) {
		return nil
	}
	ordered := slices.Clone(matches)
	slices.SortFunc(ordered, func(a, b classify.Match) int {
		return b.Sentence.Start - a.Sentence.Start
	})

	var applied []Applied
	r.doc.Mutate(dom.OriginRenderer, func() {
		floor := len(u.Text) + 1
		for _, m := range ordered {
			s := m.Sentence
			if s.Start < 0 || s.End > len(u.Text) || s.Start >= s.End || s.End > floor {
				continue
			}
			if el := r.wrap(u, s.Start, s.End, m); el != nil {
				applied = append(applied, Applied{Mask: el, Match: m})
				floor = s.Start
			}
		}
	})
	slices.Reverse(applied)
	return applied
}

// fresh reports whether u still describes the live tree.
func (r *Renderer) fresh(u scan.CandidateUnit) bool {
	if u.Parent == nil || !r.doc.Attached(u.Parent) {
		return false
	}
	if dom.ContainsClass(u.Parent, MaskClass) || dom.ClosestWithClass(u.Parent, MaskClass) != nil {
		return false
	}
	for _, f := range u.Fragments {
		if f.Node.Parent != u.Parent {
			return false
		}
	}
	return u.Current() == u.Text
}

// locate finds the fragments holding the first and last byte of [start, end).
func locate(frags []scan.Fragment, start, end int) (int, int) {
	first, last := -1, -1
	for i, f := range frags {
		if first < 0 && f.Start <= start && start < f.End {
			first = i
		}
		if f.Start < end && end <= f.End {
			last = i
			break
		}
	}
	return first, last
}

// wrap moves the nodes spanning [start, end) into a new mask. Fragments at
// higher offsets may already have been split; their prefixes are intact.
func (r *Renderer) wrap(u scan.CandidateUnit, start, end int, m classify.Match) *html.Node {
	i, j := locate(u.Fragments, start, end)
	if i < 0 || j < 0 || j < i {
		return nil
	}
	fi, fj := u.Fragments[i], u.Fragments[j]
	// Cutting through a highlight would split an element; leave it unmasked.
	if fi.Highlight && start != fi.Start {
		return nil
	}
	if fj.Highlight && end != fj.End {
		return nil
	}

	parent := u.Parent
	first, last := fi.Node, fj.Node

	if !fj.Highlight {
		if cut := end - fj.Start; cut < len(fj.Node.Data) {
			suffix := dom.NewText(fj.Node.Data[cut:])
			r.doc.SetText(fj.Node, fj.Node.Data[:cut])
			r.doc.InsertAfter(parent, suffix, fj.Node)
		}
	}
	if !fi.Highlight {
		if cut := start - fi.Start; cut > 0 {
			rest := dom.NewText(fi.Node.Data[cut:])
			r.doc.SetText(fi.Node, fi.Node.Data[:cut])
			r.doc.InsertAfter(parent, rest, fi.Node)
			first = rest
			if i == j {
				last = rest
			}
		}
	}

	span := r.newMask(m)
	r.doc.InsertBefore(parent, span, first)
	for n := first; n != nil; {
		next := n.NextSibling
		r.doc.AppendChild(span, n)
		if n == last {
			break
		}
		n = next
	}
	return span
}

func (r *Renderer) newMask(m classify.Match) *html.Node {
	ids := m.TitleIDs
	if len(ids) == 0 && m.TitleID != "" {
		ids = []string{m.TitleID}
	}
	return dom.NewElement(atom.Span,
		"class", MaskClass,
		AttrTitles, strings.Join(ids, " "),
		AttrState, string(StateMasked),
		AttrReveal, string(r.reveal),
		AttrConfidence, fmt.Sprintf("%.2f", m.Confidence),
		"tabindex", "0",
		"role", "button",
		"aria-pressed", "false",
		"aria-label", "Spoiler hidden, activate to reveal",
	)
}

// RemoveMask unwraps el, merges the text nodes it leaves behind and
// returns the text it held. Detached or non-mask elements are ignored.
func (r *Renderer) RemoveMask(el *html.Node) (string, bool) {
	if el == nil || el.Parent == nil || !dom.HasClass(el, MaskClass) || !r.doc.Attached(el) {
		return "", false
	}
	text := dom.TextContent(el)
	r.doc.Mutate(dom.OriginRenderer, func() {
		parent := el.Parent
		prev, next := el.PrevSibling, el.NextSibling
		for c := el.FirstChild; c != nil; c = el.FirstChild {
			r.doc.InsertBefore(parent, c, el)
		}
		r.doc.RemoveChild(parent, el)

		from := prev
		if from == nil {
			from = parent.FirstChild
		}
		r.mergeText(parent, from, next)
	})
	return text, true
}

// mergeText joins adjacent text nodes from n up to and including stop.
func (r *Renderer) mergeText(parent, n, stop *html.Node) {
	for n != nil {
		sib := n.NextSibling
		if sib == nil {
			return
		}
		if n.Type == html.TextNode && sib.Type == html.TextNode {
			r.doc.SetText(n, n.Data+sib.Data)
			r.doc.RemoveChild(parent, sib)
			if sib == stop {
				return
			}
			continue
		}
		if n == stop {
			return
		}
		n = sib
	}
}

// Masks returns every mask element in document order.
func (r *Renderer) Masks() []*html.Node {
	return goquery.NewDocumentFromNode(r.doc.Root()).Find("." + MaskClass).Nodes
}

// Titles returns the title ids recorded on a mask.
func Titles(mask *html.Node) []string {
	v, _ := dom.Attr(mask, AttrTitles)
	return strings.Fields(v)
}

// RemoveAllMasksFor unmasks sentences attributed only to ids. Masks shared
// with other titles stay, minus the withdrawn ids. It returns the number
// of masks removed.
func (r *Renderer) RemoveAllMasksFor(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	withdrawn := make(map[string]bool, len(ids))
	for _, id := range ids {
		withdrawn[id] = true
	}

	removed := 0
	goquery.NewDocumentFromNode(r.doc.Root()).Find("." + MaskClass).Each(func(_ int, s *goquery.Selection) {
		el := s.Get(0)
		titles := Titles(el)
		keep := make([]string, 0, len(titles))
		for _, t := range titles {
			if !withdrawn[t] {
				keep = append(keep, t)
			}
		}
		switch {
		case len(keep) == len(titles):
		case len(keep) == 0:
			if _, ok := r.RemoveMask(el); ok {
				removed++
			}
		default:
			r.doc.Mutate(dom.OriginRenderer, func() {
				r.doc.SetAttr(el, AttrTitles, strings.Join(keep, " "))
			})
		}
	})
	return removed
}

// RemoveAll unmasks the whole document.
func (r *Renderer) RemoveAll() int {
	removed := 0
	for _, el := range r.Masks() {
		if _, ok := r.RemoveMask(el); ok {
			removed++
		}
	}
	return removed
}
