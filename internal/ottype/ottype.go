// Package ottype exposes document types in the shape collaboration
// frameworks register: a static name and URI plus create, apply,
// transform, compose, invert, serialize, deserialize and transformCursor.
package ottype

import (
	"bytes"

	"richtext-ot/internal/operations"
)

// Model is what a document type delegates document handling to. A zero
// document stands for "no document yet" and must be accepted by Apply.
type Model[D any] interface {
	Apply(doc D, op operations.Op) (D, error)
	FromJSON(data []byte) (D, error)
	ToJSON(doc D) ([]byte, error)
	TransformCursor(cursor int, op operations.Op, isOwnOp bool) int
}

// Type is a registrable document type. Operations are handled by the
// operations package; documents by the model.
type Type[D any] struct {
	Name string
	URI  string

	model Model[D]
}

// New creates a document type backed by model.
func New[D any](name, uri string, model Model[D]) *Type[D] {
	return &Type[D]{Name: name, URI: uri, model: model}
}

// Create returns the initial snapshot. Without data that is the zero
// document.
func (t *Type[D]) Create(data []byte) (D, error) {
	if len(data) == 0 {
		var zero D
		return zero, nil
	}
	return t.Deserialize(data)
}

// Apply executes op on snapshot.
func (t *Type[D]) Apply(snapshot D, op operations.Op) (D, error) {
	return t.model.Apply(snapshot, op)
}

// Transform restates op against other. side is "left" or "right".
func (t *Type[D]) Transform(op, other operations.Op, side string) (operations.Op, error) {
	s, err := operations.ParseSide(side)
	if err != nil {
		return nil, err
	}
	return operations.Transform(op, other, s)
}

// Compose merges two consecutive operations.
func (t *Type[D]) Compose(a, b operations.Op) (operations.Op, error) {
	return operations.Compose(a, b)
}

// Invert returns the operation that undoes op.
func (t *Type[D]) Invert(op operations.Op) operations.Op {
	return operations.Invert(op)
}

// Serialize returns the JSON form of snapshot.
func (t *Type[D]) Serialize(snapshot D) ([]byte, error) {
	return t.model.ToJSON(snapshot)
}

// Deserialize parses a snapshot; null yields the zero document.
func (t *Type[D]) Deserialize(data []byte) (D, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero D
		return zero, nil
	}
	return t.model.FromJSON(data)
}

// TransformCursor moves a caret across op.
func (t *Type[D]) TransformCursor(cursor int, op operations.Op, isOwnOp bool) int {
	return t.model.TransformCursor(cursor, op, isOwnOp)
}
