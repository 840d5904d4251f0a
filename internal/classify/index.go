package classify

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/coder/hnsw"

	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/registry"
)

// graphMinRefs is the reference count at which similarity search switches
// from a linear scan to the HNSW graph.
const graphMinRefs = 256

// graphCandidates is how many nearest references the graph returns before
// exact cosine scoring.
const graphCandidates = 16

// Index is the classifier's view of one registry snapshot. Only enabled
// titles are indexed, so disabled titles can never match.
type Index struct {
	titles []registry.TrackedTitle

	mentions      *ahocorasick.Matcher // names and keywords
	mentionOwners [][]int              // pattern -> title indexes
	names         *ahocorasick.Matcher // names only, for proximity
	nameOwners    [][]int

	refs  []refVec
	dims  int
	graph *hnsw.Graph[int] // keyed by position in refs; nil below graphMinRefs
}

type refVec struct {
	title int
	vec   []float32
}

// NewIndex builds an index from the enabled titles of snap.
func NewIndex(snap registry.Snapshot) *Index {
	ix := &Index{titles: snap.Enabled()}

	var mentionPats, namePats []string
	mentionIdx := map[string]int{}
	nameIdx := map[string]int{}
	add := func(pats *[]string, owners *[][]int, idx map[string]int, p string, title int) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			return
		}
		i, ok := idx[p]
		if !ok {
			i = len(*pats)
			idx[p] = i
			*pats = append(*pats, p)
			*owners = append(*owners, nil)
		}
		own := (*owners)[i]
		if len(own) == 0 || own[len(own)-1] != title {
			(*owners)[i] = append(own, title)
		}
	}

	for ti, t := range ix.titles {
		add(&mentionPats, &ix.mentionOwners, mentionIdx, t.Name, ti)
		add(&namePats, &ix.nameOwners, nameIdx, t.Name, ti)
		for _, k := range t.Keywords {
			add(&mentionPats, &ix.mentionOwners, mentionIdx, k, ti)
		}
		for _, r := range t.References {
			if len(r.Embedding) == 0 {
				continue
			}
			if ix.dims == 0 {
				ix.dims = len(r.Embedding)
			}
			// Mixed dimensions come from a model switch; keep the first.
			if len(r.Embedding) != ix.dims {
				continue
			}
			ix.refs = append(ix.refs, refVec{title: ti, vec: r.Embedding})
		}
	}
	if len(mentionPats) > 0 {
		ix.mentions = ahocorasick.NewStringMatcher(mentionPats)
	}
	if len(namePats) > 0 {
		ix.names = ahocorasick.NewStringMatcher(namePats)
	}

	if len(ix.refs) >= graphMinRefs {
		g := hnsw.NewGraph[int]()
		g.Distance = hnsw.CosineDistance
		for i, r := range ix.refs {
			g.Add(hnsw.MakeNode(i, r.vec))
		}
		ix.graph = g
	}
	return ix
}

// Titles returns the indexed (enabled) titles.
func (ix *Index) Titles() []registry.TrackedTitle { return ix.titles }

// Empty reports whether there is nothing to match against.
func (ix *Index) Empty() bool { return len(ix.titles) == 0 }

// HasSemantic reports whether any indexed title carries reference vectors.
func (ix *Index) HasSemantic() bool { return len(ix.refs) > 0 }

// Dims is the reference vector dimension, 0 when there are none.
func (ix *Index) Dims() int { return ix.dims }

// Mentions returns indexes of titles whose name or keyword occurs in text,
// in registry order.
func (ix *Index) Mentions(text string) []int {
	return match(ix.mentions, ix.mentionOwners, len(ix.titles), text)
}

// NameMentions is Mentions restricted to title names.
func (ix *Index) NameMentions(text string) []int {
	return match(ix.names, ix.nameOwners, len(ix.titles), text)
}

func match(m *ahocorasick.Matcher, owners [][]int, n int, text string) []int {
	if m == nil || text == "" {
		return nil
	}
	hits := m.MatchThreadSafe([]byte(strings.ToLower(text)))
	if len(hits) == 0 {
		return nil
	}
	found := make([]bool, n)
	for _, h := range hits {
		for _, ti := range owners[h] {
			found[ti] = true
		}
	}
	var out []int
	for ti, ok := range found {
		if ok {
			out = append(out, ti)
		}
	}
	return out
}

// Similarity returns the best cosine score per title index for vec. Titles
// without comparable references are absent from the map.
func (ix *Index) Similarity(vec []float32) map[int]float32 {
	if len(ix.refs) == 0 || len(vec) != ix.dims {
		return nil
	}
	best := make(map[int]float32)
	score := func(r refVec) {
		s := embed.CosineSimilarity(vec, r.vec)
		if cur, ok := best[r.title]; !ok || s > cur {
			best[r.title] = s
		}
	}
	if ix.graph != nil {
		for _, n := range ix.graph.Search(vec, graphCandidates) {
			score(ix.refs[n.Key])
		}
		return best
	}
	for _, r := range ix.refs {
		score(r)
	}
	return best
}
