package tree

import (
	"bytes"
	"encoding/json"
	"fmt"

	"richtext-ot/internal/operations"
)

// nodeWire is the JSON form of a node. Seed is only written on the root.
type nodeWire struct {
	Type       string            `json:"type"`
	ID         int               `json:"id,omitempty"`
	Seed       int               `json:"seed,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Children   []json.RawMessage `json:"children"`
}

// MarshalJSON encodes the node and its subtree. Leaves use the same shapes
// as operation content.
func (n *Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{
		Type:       n.Type,
		ID:         n.ID,
		Seed:       n.Seed,
		Attributes: n.Attributes,
		Children:   make([]json.RawMessage, 0, len(n.Children)),
	}
	for _, c := range n.Children {
		var v any = c
		if _, ok := c.(*Node); !ok {
			content, ok := c.(operations.Content)
			if !ok {
				return nil, fmt.Errorf("unexpected child %T", c)
			}
			m, err := operations.MarshalContent(content)
			if err != nil {
				return nil, err
			}
			v = m
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		w.Children = append(w.Children, data)
	}
	return json.Marshal(w)
}

// Serialize returns the JSON form of doc, or null for a nil document.
func Serialize(doc *Node) ([]byte, error) {
	if doc == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

// Deserialize parses a document. The tree is replayed through Apply, so the
// result is canonical: lengths and tag caches are recomputed and tag balance
// is checked. null yields a nil document.
func Deserialize(data []byte) (*Node, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	var op operations.Op
	if err := flatten(w.Children, &op); err != nil {
		return nil, err
	}

	root := &Node{Type: w.Type, ID: w.ID, Attributes: w.Attributes, Seed: w.Seed}
	if root.Type == "" {
		root.Type = DocumentType
	}
	doc, err := Apply(root, op)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild document: %w", err)
	}
	return doc, nil
}

// flatten turns serialized children into the inserts that recreate them.
func flatten(children []json.RawMessage, op *operations.Op) error {
	for _, raw := range children {
		c, err := operations.UnmarshalContent(raw)
		if err != nil {
			return err
		}
		if _, ok := c.(operations.Open); !ok {
			*op = operations.Append(*op, operations.NewInsert(c))
			continue
		}

		var w nodeWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return fmt.Errorf("failed to unmarshal node: %w", err)
		}
		*op = append(*op, operations.NewInsert(operations.Open{Type: w.Type, ID: w.ID, Attributes: w.Attributes}))
		if err := flatten(w.Children, op); err != nil {
			return err
		}
	}
	return nil
}
