package tree

import (
	"maps"
	"math"
	"reflect"

	"richtext-ot/internal/operations"
)

// DocumentType is the type of the root node.
const DocumentType = "document"

// Child is an element of a node's child list: a *Node, or one of the leaf
// contents operations.Text, operations.TagOpen, operations.TagClose and
// operations.Object.
type Child interface {
	Len() int
}

// Node is one structural element of a document. Nodes are never modified
// after they are built; Apply returns a new tree that shares every
// untouched subtree with its input.
type Node struct {
	Type       string
	ID         int
	Attributes map[string]any
	Children   []Child

	// Length is the node's extent in the flattened document: one unit for
	// the node's own slot (none for the root) plus the children's lengths.
	Length int

	// Seed is the last id handed out. Only meaningful on the root.
	Seed int

	// TagCache holds the inline tags open at the node's trailing boundary.
	TagCache map[string]operations.TagOpen
}

// New returns an empty document. Its length is zero.
func New() *Node {
	return &Node{Type: DocumentType}
}

// Len returns the node's flattened length.
func (n *Node) Len() int {
	return n.Length
}

// levels orders container types from broadest to narrowest. Opening a node
// closes every open node whose level is greater or equal.
var levels = map[string]int{
	DocumentType: 0,
	"section":    1,
	"list":       2,
	"table":      2,
	"item":       3,
	"row":        3,
	"cell":       4,
	"paragraph":  5,
	"heading":    5,
	"pre":        5,
}

// Level returns the precedence of a node type. Unknown types get the
// maximum level and only ever close each other.
func Level(typ string) int {
	if l, ok := levels[typ]; ok {
		return l
	}
	return math.MaxInt
}

func sameTags(a, b map[string]operations.TagOpen) bool {
	return maps.EqualFunc(a, b, func(x, y operations.TagOpen) bool {
		return reflect.DeepEqual(x.Attributes, y.Attributes)
	})
}

func cloneTags(m map[string]operations.TagOpen) map[string]operations.TagOpen {
	out := make(map[string]operations.TagOpen, len(m))
	maps.Copy(out, m)
	return out
}

// applyTagChanges returns the cache to store on a rebuilt node. The previous
// cache is reused when the open set did not change.
func applyTagChanges(prev, open map[string]operations.TagOpen) map[string]operations.TagOpen {
	if sameTags(prev, open) {
		return prev
	}
	if len(open) == 0 {
		return nil
	}
	return cloneTags(open)
}

// Text returns the concatenated text runs of the document.
func Text(n *Node) string {
	var b []byte
	var walk func(*Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			switch v := c.(type) {
			case *Node:
				walk(v)
			case operations.Text:
				b = append(b, v...)
			}
		}
	}
	walk(n)
	return string(b)
}
