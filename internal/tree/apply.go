package tree

import (
	"slices"

	"richtext-ot/internal/operations"
)

type mode int

const (
	modeRetain mode = iota
	modeDelete
)

// frame is a node under construction.
type frame struct {
	proto    *Node // supplies type, id, attributes and the previous tag cache
	level    int
	children []Child
}

// applier holds the scratch state of one Apply call.
type applier struct {
	stack []*frame

	// tags are the inline tags open at the current position of the new
	// document; prior are those open at the current position of the old one.
	tags  map[string]operations.TagOpen
	prior map[string]operations.TagOpen

	// pending is the last subtree retained whole. It is the last child of
	// the innermost frame.
	pending *Node

	seed int
	pos  int // offset into the old document
}

// Apply executes op on doc and returns the new document. doc is not
// modified. Subtrees the operation retains whole are shared between the
// two documents.
//
// The old document is flattened lazily, one atom at a time, and the new
// document is rebuilt on a stack of frames ordered by node level.
func Apply(doc *Node, op operations.Op) (*Node, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if base := operations.BaseLen(op); base != doc.Length {
		return nil, &operations.OpError{Err: operations.ErrLengthMismatch, Offset: min(base, doc.Length)}
	}

	a := &applier{
		stack: []*frame{{proto: doc, level: 0}},
		tags:  map[string]operations.TagOpen{},
		prior: map[string]operations.TagOpen{},
		seed:  doc.Seed,
	}

	for _, atom := range op {
		switch atom.Kind {
		case operations.KindInsert:
			if err := a.insert(atom.Content); err != nil {
				return nil, err
			}
		case operations.KindRetain, operations.KindDelete:
			n := atom.Extent()
			if a.pos+n > doc.Length {
				return nil, &operations.OpError{Err: operations.ErrLengthMismatch, Offset: a.pos}
			}
			m := modeRetain
			if atom.Kind == operations.KindDelete {
				m = modeDelete
			}
			if err := a.walk(doc, 0, true, a.pos, a.pos+n, m); err != nil {
				return nil, err
			}
			a.pos += n
		}
	}

	if a.pos != doc.Length {
		return nil, &operations.OpError{Err: operations.ErrLengthMismatch, Offset: a.pos}
	}
	if len(a.tags) > 0 {
		names := make([]string, 0, len(a.tags))
		for name := range a.tags {
			names = append(names, name)
		}
		slices.Sort(names)
		return nil, &operations.OpError{Err: operations.ErrUnbalancedTags, Offset: a.pos, Tag: names[0]}
	}

	a.settle(0)
	a.unwind(0)
	root := a.stack[0].build(0, nil)
	root.Seed = a.seed
	return root, nil
}

// walk visits the part of n that lies within [start, end) of the old
// document. base is the offset of n's first unit.
func (a *applier) walk(n *Node, base int, root bool, start, end int, m mode) error {
	slot := 1
	if root {
		slot = 0
	}

	if !root && start <= base && base+n.Length <= end {
		if m == modeDelete {
			a.prior = cloneTags(n.TagCache)
			return nil
		}
		if sameTags(a.tags, a.prior) {
			a.reopen(n)
			return nil
		}
	}

	if !root && start <= base && base < end && m == modeRetain {
		a.open(n, Level(n.Type))
	}

	p := base + slot
	for _, c := range n.Children {
		if p >= end {
			break
		}
		l := c.Len()
		if p+l > start {
			if child, ok := c.(*Node); ok {
				if err := a.walk(child, p, false, start, end, m); err != nil {
					return err
				}
			} else {
				s, e := max(start, p)-p, min(end, p+l)-p
				if err := a.leaf(slice(c, s, e), p+s, m); err != nil {
					return err
				}
			}
		}
		p += l
	}
	return nil
}

// reopen retains n whole. The node is shared with the old document until
// content has to go inside it; then every node on its right spine becomes
// an open frame again.
func (a *applier) reopen(n *Node) {
	level := clampLevel(Level(n.Type))
	a.settle(level)
	a.unwind(level)

	top := a.stack[len(a.stack)-1]
	top.children = append(top.children, n)
	a.pending = n
	a.tags = cloneTags(n.TagCache)
	a.prior = cloneTags(n.TagCache)
}

// settle resolves a pending subtree before a node of the given level
// opens. A subtree the new node closes anyway stays shared.
func (a *applier) settle(level int) {
	if a.pending != nil && clampLevel(Level(a.pending.Type)) >= level {
		a.pending = nil
	}
	a.materialize()
}

// materialize turns the pending subtree's right spine back into frames.
func (a *applier) materialize() {
	n := a.pending
	if n == nil {
		return
	}
	a.pending = nil

	top := a.stack[len(a.stack)-1]
	top.children = top.children[:len(top.children)-1]
	for n != nil {
		f := &frame{proto: n, level: clampLevel(Level(n.Type)), children: slices.Clone(n.Children)}
		a.stack = append(a.stack, f)
		n = nil
		if k := len(f.children); k > 0 {
			if last, ok := f.children[k-1].(*Node); ok {
				f.children = f.children[:k-1]
				n = last
			}
		}
	}
}

// leaf handles one retained or deleted piece of the old document.
func (a *applier) leaf(c Child, offset int, m mode) error {
	if m == modeDelete {
		switch v := c.(type) {
		case operations.TagOpen:
			a.prior[v.Tag] = v
		case operations.TagClose:
			delete(a.prior, v.Tag)
		}
		return nil
	}

	switch v := c.(type) {
	case operations.TagOpen:
		a.prior[v.Tag] = v
	case operations.TagClose:
		delete(a.prior, v.Tag)
	}
	return a.emit(c, offset)
}

// insert handles one inserted piece of content.
func (a *applier) insert(c operations.Content) error {
	if o, ok := c.(operations.Open); ok {
		id := o.ID
		if id == 0 {
			a.seed++
			id = a.seed
		} else {
			a.seed = max(a.seed, id)
		}
		a.open(&Node{Type: o.Type, ID: id, Attributes: o.Attributes}, Level(o.Type))
		return nil
	}
	return a.emit(c, a.pos)
}

// emit appends a leaf to the innermost open node, tracking tag balance.
func (a *applier) emit(c Child, offset int) error {
	switch v := c.(type) {
	case operations.TagOpen:
		if _, open := a.tags[v.Tag]; open {
			return &operations.OpError{Err: operations.ErrNestedStartTag, Offset: offset, Tag: v.Tag}
		}
		a.tags[v.Tag] = v
	case operations.TagClose:
		if _, open := a.tags[v.Tag]; !open {
			return &operations.OpError{Err: operations.ErrMissingStartTag, Offset: offset, Tag: v.Tag}
		}
		delete(a.tags, v.Tag)
	case operations.Text:
		if len(v) == 0 {
			return nil
		}
	}

	a.materialize()
	f := a.stack[len(a.stack)-1]
	if t, ok := c.(operations.Text); ok {
		if k := len(f.children); k > 0 {
			if prev, ok := f.children[k-1].(operations.Text); ok {
				f.children[k-1] = prev + t
				return nil
			}
		}
	}
	f.children = append(f.children, c)
	return nil
}

// open starts a new frame for proto after closing every frame of the same
// or a narrower level.
func (a *applier) open(proto *Node, level int) {
	level = clampLevel(level)
	a.settle(level)
	a.unwind(level)
	a.stack = append(a.stack, &frame{proto: proto, level: level})
}

// unwind closes frames until the innermost one is broader than level.
// The root frame is never closed here.
func (a *applier) unwind(level int) {
	for len(a.stack) > 1 && a.stack[len(a.stack)-1].level >= level {
		f := a.stack[len(a.stack)-1]
		a.stack = a.stack[:len(a.stack)-1]
		parent := a.stack[len(a.stack)-1]
		parent.children = append(parent.children, f.build(1, a.tags))
	}
}

// build turns the frame into a finished node.
func (f *frame) build(slot int, open map[string]operations.TagOpen) *Node {
	n := &Node{
		Type:       f.proto.Type,
		ID:         f.proto.ID,
		Attributes: f.proto.Attributes,
		Children:   f.children,
		Length:     slot,
		TagCache:   applyTagChanges(f.proto.TagCache, open),
	}
	for _, c := range f.children {
		n.Length += c.Len()
	}
	return n
}

// clampLevel keeps every node other than the root above level zero.
func clampLevel(level int) int {
	return max(level, 1)
}

// slice returns units [s, e) of a leaf. Only text can be cut.
func slice(c Child, s, e int) Child {
	t, ok := c.(operations.Text)
	if !ok || (s == 0 && e == t.Len()) {
		return c
	}
	return operations.Text([]rune(string(t))[s:e])
}
