package operations

import "fmt"

// Side breaks ties between concurrent inserts at the same position.
type Side int

const (
	Left  Side = iota // The transformed operation's inserts go first
	Right             // The other operation's inserts go first
)

// ParseSide converts "left" or "right" into a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return Left, fmt.Errorf("unknown side: %q", s)
	}
}

// Transform restates a so that it applies to a document that already had
// b applied. Both operations must have been created against the same
// document version.
//
// For concurrent a and b exactly one of the two transforms must use Left:
//
//	apply(apply(d, a), Transform(b, a, Right)) == apply(apply(d, b), Transform(a, b, Left))
//
// This is the core algorithm of Operational Transformation.
func Transform(a, b Op, side Side) (Op, error) {
	if al, bl := BaseLen(a), BaseLen(b); al != bl {
		return nil, lengthMismatch(al, bl)
	}

	var out Op
	c := newCursor(a)
	pos := 0

	for _, bo := range b {
		switch bo.Kind {
		case KindRetain:
			// Untouched by b: copy a's atoms through, inserts included.
			for length := bo.N; length > 0; {
				chunk, ok := c.take(length, KindInsert)
				if !ok {
					return nil, lengthMismatch(pos, BaseLen(b))
				}
				out = Append(out, chunk)
				if chunk.Kind != KindInsert {
					length -= chunk.Extent()
					pos += chunk.Extent()
				}
			}

		case KindInsert:
			if side == Left {
				for next, ok := c.peek(); ok && next.Kind == KindInsert; next, ok = c.peek() {
					chunk, _ := c.take(-1, KindInsert)
					out = Append(out, chunk)
				}
			}
			out = Append(out, NewRetain(bo.Extent()))

		case KindDelete:
			// The region is gone; only what a inserted inside it survives.
			for length := bo.Extent(); length > 0; {
				chunk, ok := c.take(length, KindInsert)
				if !ok {
					return nil, lengthMismatch(pos, BaseLen(b))
				}
				if chunk.Kind == KindInsert {
					out = Append(out, chunk)
					continue
				}
				length -= chunk.Extent()
				pos += chunk.Extent()
			}

		default:
			return nil, &OpError{Err: ErrUnknownOperationShape, Offset: pos}
		}
	}

	for chunk, ok := c.take(-1, KindInsert); ok; chunk, ok = c.take(-1, KindInsert) {
		out = Append(out, chunk)
	}

	return out, nil
}

// TransformCursor moves a caret position across op so that it stays
// anchored to the same content. Inserts before the cursor push it forward;
// an insert exactly at the cursor pushes it only when the operation is not
// the caller's own. Deletes before the cursor pull it back, never further
// than the start of the deleted range.
func TransformCursor(cursor int, op Op, isOwnOp bool) int {
	result := cursor
	pos := 0

	for _, a := range op {
		if pos > cursor {
			break
		}
		switch a.Kind {
		case KindRetain:
			pos += a.N
		case KindInsert:
			if pos < cursor || (pos == cursor && !isOwnOp) {
				result += a.Extent()
			}
		case KindDelete:
			n := a.Extent()
			if pos < cursor {
				result -= min(n, cursor-pos)
			}
			pos += n
		}
	}

	if result < 0 {
		return 0
	}
	return result
}
