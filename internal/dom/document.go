// Package dom wraps an x/net/html tree with browser-style mutation records.
//
// All writes go through Document methods so every change is recorded with
// the Origin active at the time. Consumers drain records with TakeRecords,
// the way a MutationObserver callback receives a batch. The renderer tags
// its own writes with OriginRenderer so the scheduler can ignore them.
//
// A Document is not safe for concurrent use; one event loop owns it.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Origin identifies who performed a mutation.
type Origin int

const (
	// OriginHost is the page itself (scripts, network-loaded content).
	OriginHost Origin = iota
	// OriginRenderer is the mask renderer.
	OriginRenderer
)

func (o Origin) String() string {
	if o == OriginRenderer {
		return "renderer"
	}
	return "host"
}

// MutationKind mirrors the MutationObserver record types.
type MutationKind int

const (
	ChildList MutationKind = iota
	CharacterData
	Attributes
)

// MutationRecord describes one change.
type MutationRecord struct {
	Kind    MutationKind
	Target  *html.Node // parent for ChildList, the node itself otherwise
	Added   []*html.Node
	Removed []*html.Node
	Attr    string
	Origin  Origin
}

// Document owns an HTML tree and its pending mutation records.
type Document struct {
	root    *html.Node
	origin  Origin
	records []MutationRecord
}

// New wraps an existing tree.
func New(root *html.Node) *Document {
	return &Document{root: root}
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := FindElement(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

// Mutate runs fn with o as the origin of every write it performs.
func (d *Document) Mutate(o Origin, fn func()) {
	prev := d.origin
	d.origin = o
	defer func() { d.origin = prev }()
	fn()
}

// TakeRecords returns and clears the pending records.
func (d *Document) TakeRecords() []MutationRecord {
	out := d.records
	d.records = nil
	return out
}

// Pending reports how many records are waiting.
func (d *Document) Pending() int { return len(d.records) }

func (d *Document) record(r MutationRecord) {
	r.Origin = d.origin
	d.records = append(d.records, r)
}

// detach removes child from its current parent, recording the removal.
func (d *Document) detach(child *html.Node) {
	if p := child.Parent; p != nil {
		p.RemoveChild(child)
		d.record(MutationRecord{Kind: ChildList, Target: p, Removed: []*html.Node{child}})
	}
}

// AppendChild moves child to the end of parent's children.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.detach(child)
	parent.AppendChild(child)
	d.record(MutationRecord{Kind: ChildList, Target: parent, Added: []*html.Node{child}})
}

// InsertBefore moves child in front of ref. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if ref == nil {
		d.AppendChild(parent, child)
		return
	}
	d.detach(child)
	parent.InsertBefore(child, ref)
	d.record(MutationRecord{Kind: ChildList, Target: parent, Added: []*html.Node{child}})
}

// InsertAfter moves child right after ref.
func (d *Document) InsertAfter(parent, child, ref *html.Node) {
	d.InsertBefore(parent, child, ref.NextSibling)
}

// RemoveChild detaches child from parent. It is a no-op when child has
// already moved elsewhere.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if child.Parent != parent {
		return
	}
	d.detach(child)
}

// SetText replaces the data of a text node.
func (d *Document) SetText(n *html.Node, text string) {
	if n.Data == text {
		return
	}
	n.Data = text
	d.record(MutationRecord{Kind: CharacterData, Target: n})
}

// SetAttr sets or replaces an attribute.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			if n.Attr[i].Val == val {
				return
			}
			n.Attr[i].Val = val
			d.record(MutationRecord{Kind: Attributes, Target: n, Attr: key})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	d.record(MutationRecord{Kind: Attributes, Target: n, Attr: key})
}

// RemoveAttr deletes an attribute if present.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(MutationRecord{Kind: Attributes, Target: n, Attr: key})
			return
		}
	}
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes. Host tasks use it to simulate content loading in.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		d.AppendChild(parent, n)
	}
	return nodes, nil
}

// Render writes the tree as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the tree; render errors yield an empty string.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Attached reports whether n is still connected to the document root.
func (d *Document) Attached(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == d.root {
			return true
		}
	}
	return false
}
