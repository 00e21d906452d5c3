package operations

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies an atom of an operation.
type Kind int

const (
	KindRetain Kind = iota // Skip N units of the current document
	KindInsert             // Introduce new content at the current position
	KindDelete             // Remove content at the current position
)

// String returns the wire-style name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRetain:
		return "retain"
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Content is the payload of an insert or delete atom. The set of
// implementations is closed: Text, Open, TagOpen, TagClose and Object.
type Content interface {
	// Len returns the number of document units the content occupies.
	Len() int
	isContent()
}

// Text is a run of characters. Its length is counted in code points.
type Text string

// Open begins a new structural node. An ID of zero means "not assigned";
// the apply engine mints one from the document seed.
type Open struct {
	Type       string
	ID         int
	Attributes map[string]any
}

// TagOpen starts an inline formatting tag such as "strong".
type TagOpen struct {
	Tag        string
	Attributes map[string]any
}

// TagClose ends the inline tag with the same name.
type TagClose struct {
	Tag string
}

// Object is an opaque, indivisible leaf such as a widget.
type Object struct {
	Name       string
	Attributes map[string]any
}

func (t Text) Len() int { return utf8.RuneCountInString(string(t)) }
func (Open) Len() int { return 1 }
func (TagOpen) Len() int { return 1 }
func (TagClose) Len() int { return 1 }
func (Object) Len() int { return 1 }
func (Text) isContent() {}
func (Open) isContent() {}
func (TagOpen) isContent() {}
func (TagClose) isContent() {}
func (Object) isContent() {}

// Atom is one element of an operation. Retain atoms carry N; insert and
// delete atoms carry Content.
type Atom struct {
	Kind    Kind
	N       int
	Content Content
}

// Op is an ordered sequence of atoms walked left to right over the
// flattened document.
type Op []Atom

// NewRetain creates an atom that skips n units.
func NewRetain(n int) Atom {
	return Atom{Kind: KindRetain, N: n}
}

// NewInsert creates an atom that inserts c.
func NewInsert(c Content) Atom {
	return Atom{Kind: KindInsert, Content: c}
}

// NewDelete creates an atom that deletes c.
func NewDelete(c Content) Atom {
	return Atom{Kind: KindDelete, Content: c}
}

// InsertText is shorthand for NewInsert(Text(s)).
func InsertText(s string) Atom {
	return NewInsert(Text(s))
}

// DeleteText is shorthand for NewDelete(Text(s)).
func DeleteText(s string) Atom {
	return NewDelete(Text(s))
}

// Extent returns the number of units the atom covers: pre-image units for
// retain and delete, post-image units for insert.
func (a Atom) Extent() int {
	if a.Kind == KindRetain {
		return a.N
	}
	if a.Content == nil {
		return 0
	}
	return a.Content.Len()
}

// String returns a human-readable representation of the atom.
func (a Atom) String() string {
	switch a.Kind {
	case KindRetain:
		return fmt.Sprintf("Retain(%d)", a.N)
	case KindInsert:
		return fmt.Sprintf("Insert(%s)", describe(a.Content))
	case KindDelete:
		return fmt.Sprintf("Delete(%s)", describe(a.Content))
	default:
		return "Unknown atom"
	}
}

func describe(c Content) string {
	switch v := c.(type) {
	case Text:
		return fmt.Sprintf("%q", string(v))
	case Open:
		return fmt.Sprintf("{type:%s id:%d}", v.Type, v.ID)
	case TagOpen:
		return fmt.Sprintf("{tag:%s}", v.Tag)
	case TagClose:
		return fmt.Sprintf("{end:%s}", v.Tag)
	case Object:
		return fmt.Sprintf("{object:%s}", v.Name)
	default:
		return "?"
	}
}

// String returns the atoms joined by commas.
func (op Op) String() string {
	parts := make([]string, len(op))
	for i, a := range op {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// BaseLen returns the document length the operation must be applied to.
func BaseLen(op Op) int {
	n := 0
	for _, a := range op {
		if a.Kind != KindInsert {
			n += a.Extent()
		}
	}
	return n
}

// TargetLen returns the document length after the operation is applied.
func TargetLen(op Op) int {
	n := 0
	for _, a := range op {
		if a.Kind != KindDelete {
			n += a.Extent()
		}
	}
	return n
}

// IsNoop reports whether the operation leaves every document unchanged.
func IsNoop(op Op) bool {
	for _, a := range op {
		if a.Kind != KindRetain && a.Extent() > 0 {
			return false
		}
	}
	return true
}

// Validate checks that every atom has a recognized shape.
func (op Op) Validate() error {
	offset := 0
	for _, a := range op {
		switch a.Kind {
		case KindRetain:
			if a.N < 0 {
				return &OpError{Err: ErrUnknownOperationShape, Offset: offset}
			}
		case KindInsert, KindDelete:
			switch a.Content.(type) {
			case Text, Open, TagOpen, TagClose, Object:
			default:
				return &OpError{Err: ErrUnknownOperationShape, Offset: offset}
			}
		default:
			return &OpError{Err: ErrUnknownOperationShape, Offset: offset}
		}
		if a.Kind != KindInsert {
			offset += a.Extent()
		}
	}
	return nil
}

// slice returns the part of the atom between units s and e. An e below
// zero means "to the end". Only retains and text runs can be split; any
// other content is returned whole.
func (a Atom) slice(s, e int) Atom {
	if a.Kind == KindRetain {
		if e < 0 {
			e = a.N
		}
		return NewRetain(e - s)
	}
	t, ok := a.Content.(Text)
	if !ok {
		return a
	}
	r := []rune(string(t))
	if e < 0 {
		e = len(r)
	}
	return Atom{Kind: a.Kind, Content: Text(r[s:e])}
}

// splittable reports whether the atom may be cut at an inner offset.
func (a Atom) splittable() bool {
	if a.Kind == KindRetain {
		return true
	}
	_, ok := a.Content.(Text)
	return ok
}

// empty reports whether the atom covers no units at all.
func (a Atom) empty() bool {
	return a.Extent() == 0
}

// merge coalesces b into a when both are of the same kind and mergeable.
func merge(a, b Atom) (Atom, bool) {
	if a.Kind != b.Kind {
		return Atom{}, false
	}
	if a.Kind == KindRetain {
		return NewRetain(a.N + b.N), true
	}
	at, ok := a.Content.(Text)
	if !ok {
		return Atom{}, false
	}
	bt, ok := b.Content.(Text)
	if !ok {
		return Atom{}, false
	}
	return Atom{Kind: a.Kind, Content: at + bt}, true
}

// Append adds a to op, coalescing it with the last atom when both are
// retains, text inserts or text deletes. Empty atoms are dropped. An insert
// that follows deletes is placed ahead of them, so every run of changes
// at one position reads as inserts then deletes.
func Append(op Op, a Atom) Op {
	if a.empty() {
		return op
	}
	if a.Kind == KindInsert {
		i := len(op)
		for i > 0 && op[i-1].Kind == KindDelete {
			i--
		}
		if i < len(op) {
			deletes := append(Op(nil), op[i:]...)
			return append(push(op[:i], a), deletes...)
		}
	}
	return push(op, a)
}

func push(op Op, a Atom) Op {
	if n := len(op); n > 0 {
		if m, ok := merge(op[n-1], a); ok {
			op[n-1] = m
			return op
		}
	}
	return append(op, a)
}

// Compact returns a merge-compressed copy of op in insert-first order.
func Compact(op Op) Op {
	out := make(Op, 0, len(op))
	for _, a := range op {
		out = Append(out, a)
	}
	return out
}
