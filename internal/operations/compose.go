package operations

import "reflect"

// Compose merges two consecutive operations into one. For every document d:
//
//	apply(apply(d, a), b) == apply(d, Compose(a, b))
//
// Content that a inserts and b deletes disappears from the result, and
// content that a deletes and b inserts back unchanged becomes a retain.
func Compose(a, b Op) (Op, error) {
	if al, bl := TargetLen(a), BaseLen(b); al != bl {
		return nil, lengthMismatch(al, bl)
	}

	var out Op
	c := newCursor(a)
	pos := 0

	for _, bo := range b {
		switch bo.Kind {
		case KindRetain:
			for length := bo.N; length > 0; {
				chunk, ok := c.take(length, KindDelete)
				if !ok {
					return nil, lengthMismatch(pos, BaseLen(b))
				}
				out = Append(out, chunk)
				if chunk.Kind != KindDelete {
					length -= chunk.Extent()
					pos += chunk.Extent()
				}
			}

		case KindInsert:
			out = Append(out, bo)

		case KindDelete:
			s := 0
			for length := bo.Extent(); length > 0; {
				chunk, ok := c.take(length, KindDelete)
				if !ok {
					return nil, lengthMismatch(pos, BaseLen(b))
				}
				switch chunk.Kind {
				case KindRetain:
					// Existed before a: record the deletion.
					out = Append(out, bo.slice(s, s+chunk.N))
				case KindInsert:
					// Inserted by a: never existed for an outside observer.
				case KindDelete:
					out = Append(out, chunk)
					continue
				}
				length -= chunk.Extent()
				s += chunk.Extent()
				pos += chunk.Extent()
			}

		default:
			return nil, &OpError{Err: ErrUnknownOperationShape, Offset: pos}
		}
	}

	for chunk, ok := c.take(-1, KindDelete); ok; chunk, ok = c.take(-1, KindDelete) {
		out = Append(out, chunk)
	}

	return cancel(out), nil
}

// cancel turns the leading units of an insert run that match the delete
// run right after it into retains. The op must be in insert-first order.
func cancel(op Op) Op {
	out := make(Op, 0, len(op))
	for i := 0; i < len(op); {
		if op[i].Kind != KindInsert {
			out = Append(out, op[i])
			i++
			continue
		}
		j := i
		for j < len(op) && op[j].Kind == KindInsert {
			j++
		}
		k := j
		for k < len(op) && op[k].Kind == KindDelete {
			k++
		}

		ins, del := newCursor(op[i:j]), newCursor(op[j:k])
		for {
			x, okx := ins.take(1, KindRetain)
			y, oky := del.take(1, KindRetain)
			if okx && oky && reflect.DeepEqual(x.Content, y.Content) {
				out = Append(out, NewRetain(1))
				continue
			}
			if okx {
				out = drain(Append(out, x), ins)
			}
			if oky {
				out = drain(Append(out, y), del)
			}
			break
		}
		i = k
	}
	return out
}

func drain(out Op, c *cursor) Op {
	for chunk, ok := c.take(-1, KindRetain); ok; chunk, ok = c.take(-1, KindRetain) {
		out = Append(out, chunk)
	}
	return out
}

// Invert returns the operation that undoes op: inserts become deletes and
// deletes become inserts. The result is in insert-first order, so
// Invert(Invert(op)) == op for any compacted op.
func Invert(op Op) Op {
	out := make(Op, 0, len(op))
	for _, a := range op {
		switch a.Kind {
		case KindInsert:
			a = NewDelete(a.Content)
		case KindDelete:
			a = NewInsert(a.Content)
		}
		out = Append(out, a)
	}
	return out
}
