package operations

import (
	"fmt"
	"strings"
)

// ApplyText executes an operation on a plain-text document and returns the
// result. Only text content is accepted; structural markers, tags and
// objects need the tree engine.
func ApplyText(doc string, op Op) (string, error) {
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("invalid operation: %w", err)
	}

	runes := []rune(doc)
	if base := BaseLen(op); base != len(runes) {
		return "", lengthMismatch(base, len(runes))
	}

	var b strings.Builder
	pos := 0
	for _, a := range op {
		switch a.Kind {
		case KindRetain:
			b.WriteString(string(runes[pos : pos+a.N]))
			pos += a.N

		case KindInsert:
			t, ok := a.Content.(Text)
			if !ok {
				return "", &OpError{Err: ErrUnknownOperationShape, Offset: pos}
			}
			b.WriteString(string(t))

		case KindDelete:
			if err := applyDelete(runes, pos, a); err != nil {
				return "", err
			}
			pos += a.Extent()
		}
	}
	return b.String(), nil
}

// applyDelete checks that the text being removed matches the document.
func applyDelete(runes []rune, pos int, a Atom) error {
	t, ok := a.Content.(Text)
	if !ok {
		return &OpError{Err: ErrUnknownOperationShape, Offset: pos}
	}
	actual := string(runes[pos : pos+a.Extent()])
	if actual != string(t) {
		return fmt.Errorf("delete text mismatch at %d: expected '%s', found '%s'", pos, string(t), actual)
	}
	return nil
}

// ApplyAllText applies a sequence of operations to a plain-text document.
func ApplyAllText(doc string, ops []Op) (string, error) {
	result := doc
	for i, op := range ops {
		next, err := ApplyText(result, op)
		if err != nil {
			return "", fmt.Errorf("failed to apply operation %d: %w", i, err)
		}
		result = next
	}
	return result, nil
}
