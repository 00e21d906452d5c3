package ottype

import (
	"encoding/json"
	"fmt"

	"richtext-ot/internal/operations"
	"richtext-ot/internal/tree"
)

// Registered names of the built-in types.
const (
	TreeName = "slate0"
	TreeURI  = "http://clay3.com/types/slatev0"

	TextName = "text"
	TextURI  = "urn:richtext-ot:types:text"
)

// Tree is the rich-text tree document type.
var Tree = New[*tree.Node](TreeName, TreeURI, treeModel{})

// Text is a plain-text document type sharing the same operation language.
var Text = New[string](TextName, TextURI, textModel{})

type treeModel struct{}

func (treeModel) Apply(doc *tree.Node, op operations.Op) (*tree.Node, error) {
	if doc == nil {
		doc = tree.New()
	}
	return tree.Apply(doc, op)
}

func (treeModel) FromJSON(data []byte) (*tree.Node, error) {
	return tree.Deserialize(data)
}

func (treeModel) ToJSON(doc *tree.Node) ([]byte, error) {
	return tree.Serialize(doc)
}

func (treeModel) TransformCursor(cursor int, op operations.Op, isOwnOp bool) int {
	return operations.TransformCursor(cursor, op, isOwnOp)
}

type textModel struct{}

func (textModel) Apply(doc string, op operations.Op) (string, error) {
	return operations.ApplyText(doc, op)
}

func (textModel) FromJSON(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("failed to unmarshal text document: %w", err)
	}
	return s, nil
}

func (textModel) ToJSON(doc string) ([]byte, error) {
	return json.Marshal(doc)
}

func (textModel) TransformCursor(cursor int, op operations.Op, isOwnOp bool) int {
	return operations.TransformCursor(cursor, op, isOwnOp)
}
