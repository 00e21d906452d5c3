package tree

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"richtext-ot/internal/operations"
)

var blockElements = map[string]atom.Atom{
	"paragraph": atom.P,
	"list":      atom.Ul,
	"item":      atom.Li,
	"section":   atom.Section,
	"table":     atom.Table,
	"row":       atom.Tr,
	"cell":      atom.Td,
	"pre":       atom.Pre,
}

var headings = []atom.Atom{atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}

// renderer converts a document into an HTML fragment. Inline tags that are
// still open when a block ends are reopened inside the next block.
type renderer struct {
	open []operations.TagOpen // inline tags open in document order
}

// RenderHTML returns the document as an HTML fragment.
func RenderHTML(doc *Node) (string, error) {
	r := &renderer{}
	container := &html.Node{Type: html.DocumentNode}
	r.children(container, doc)

	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("failed to render html: %w", err)
		}
	}
	return buf.String(), nil
}

// children renders n's children into block. The chain of inline elements
// is only built once a leaf needs it.
func (r *renderer) children(block *html.Node, n *Node) {
	var inline []*html.Node
	current := func() *html.Node {
		if inline == nil {
			inline = r.reopen(block)
		}
		return inline[len(inline)-1]
	}

	for _, c := range n.Children {
		switch v := c.(type) {
		case *Node:
			el := blockElement(v)
			block.AppendChild(el)
			r.children(el, v)
			inline = nil

		case operations.Text:
			current().AppendChild(&html.Node{Type: html.TextNode, Data: string(v)})

		case operations.TagOpen:
			el := inlineElement(v)
			current().AppendChild(el)
			inline = append(inline, el)
			r.open = append(r.open, v)

		case operations.TagClose:
			i := slices.IndexFunc(r.open, func(t operations.TagOpen) bool { return t.Tag == v.Tag })
			if i < 0 {
				continue
			}
			r.open = slices.Delete(r.open, i, i+1)
			if inline == nil {
				continue
			}
			// Close everything from the tag inward and reopen the rest.
			inline = inline[:i+1]
			for _, t := range r.open[i:] {
				el := inlineElement(t)
				inline[len(inline)-1].AppendChild(el)
				inline = append(inline, el)
			}

		case operations.Object:
			el := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
			el.Attr = append([]html.Attribute{{Key: "data-object", Val: v.Name}}, attributes(v.Attributes)...)
			current().AppendChild(el)
		}
	}
}

// reopen starts a fresh chain of the currently open inline tags in block.
// The first element of the returned chain is block itself.
func (r *renderer) reopen(block *html.Node) []*html.Node {
	chain := []*html.Node{block}
	for _, t := range r.open {
		el := inlineElement(t)
		chain[len(chain)-1].AppendChild(el)
		chain = append(chain, el)
	}
	return chain
}

func blockElement(n *Node) *html.Node {
	a, ok := blockElements[n.Type]
	if n.Type == "heading" {
		a, ok = headings[headingLevel(n.Attributes)-1], true
	}

	attrs := attributes(n.Attributes)
	if !ok {
		a = atom.Div
		attrs = append([]html.Attribute{{Key: "data-type", Val: n.Type}}, attrs...)
	}
	if n.Type == "heading" {
		attrs = slices.DeleteFunc(attrs, func(at html.Attribute) bool { return at.Key == "level" })
	}
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a, Attr: attrs}
}

func inlineElement(t operations.TagOpen) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: t.Tag, Attr: attributes(t.Attributes)}
	el.DataAtom = atom.Lookup([]byte(t.Tag))
	return el
}

func headingLevel(attrs map[string]any) int {
	var level int
	switch v := attrs["level"].(type) {
	case int:
		level = v
	case float64:
		level = int(v)
	}
	return min(max(level, 1), len(headings))
}

// attributes converts node or tag attributes into sorted HTML attributes.
func attributes(attrs map[string]any) []html.Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]html.Attribute, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, html.Attribute{Key: k, Val: fmt.Sprint(v)})
	}
	slices.SortFunc(out, func(a, b html.Attribute) int { return strings.Compare(a.Key, b.Key) })
	return out
}
