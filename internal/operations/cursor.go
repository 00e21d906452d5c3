package operations

// cursor reads an operation in arbitrarily sized chunks. Inserts and
// deletes can be marked indivisible so that a read never splits them;
// non-text content is never split at all.
type cursor struct {
	ops    Op
	index  int
	offset int
}

func newCursor(op Op) *cursor {
	ops := make(Op, 0, len(op))
	for _, a := range op {
		if !a.empty() {
			ops = append(ops, a)
		}
	}
	return &cursor{ops: ops}
}

// take returns the next chunk of at most n units. The whole remainder of
// the current atom is returned when it is shorter than n, when its kind is
// indivisible, or when n is negative. ok is false once the cursor is
// exhausted.
func (c *cursor) take(n int, indivisible Kind) (Atom, bool) {
	if c.index == len(c.ops) {
		return Atom{}, false
	}
	cur := c.ops[c.index]
	if n < 0 || cur.Extent()-c.offset <= n || cur.Kind == indivisible || !cur.splittable() {
		part := cur.slice(c.offset, -1)
		c.index++
		c.offset = 0
		return part, true
	}
	part := cur.slice(c.offset, c.offset+n)
	c.offset += n
	return part, true
}

// peek returns the atom under the cursor without advancing.
func (c *cursor) peek() (Atom, bool) {
	if c.index == len(c.ops) {
		return Atom{}, false
	}
	return c.ops[c.index], true
}
