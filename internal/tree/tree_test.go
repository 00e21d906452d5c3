package tree

import (
	"errors"
	"reflect"
	"testing"

	"richtext-ot/internal/operations"
)

func openNode(typ string) operations.Atom {
	return operations.NewInsert(operations.Open{Type: typ})
}

func tagOpen(tag string) operations.Atom {
	return operations.NewInsert(operations.TagOpen{Tag: tag})
}

func tagClose(tag string) operations.Atom {
	return operations.NewInsert(operations.TagClose{Tag: tag})
}

// build applies op to an empty document.
func build(t *testing.T, op operations.Op) *Node {
	t.Helper()
	doc, err := Apply(New(), op)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return doc
}

func twoParagraphs(t *testing.T) *Node {
	return build(t, operations.Op{
		openNode("paragraph"), operations.InsertText("Hello"),
		openNode("paragraph"), operations.InsertText("World"),
	})
}

func paragraph(t *testing.T, doc *Node, i int) *Node {
	t.Helper()
	if i >= len(doc.Children) {
		t.Fatalf("document has %d children, want more than %d", len(doc.Children), i)
	}
	p, ok := doc.Children[i].(*Node)
	if !ok {
		t.Fatalf("child %d is %T, want *Node", i, doc.Children[i])
	}
	return p
}

// TestNew verifies the empty document.
func TestNew(t *testing.T) {
	doc := New()
	if doc.Type != DocumentType {
		t.Errorf("Type = %q, want %q", doc.Type, DocumentType)
	}
	if doc.Length != 0 {
		t.Errorf("Length = %d, want 0", doc.Length)
	}
}

// TestTagScenario applies a formatted insert to an empty document.
func TestTagScenario(t *testing.T) {
	balanced := operations.Op{
		operations.NewRetain(0),
		operations.InsertText("This is "),
		tagOpen("strong"),
		operations.InsertText("some"),
		tagClose("strong"),
		operations.InsertText(" text"),
	}

	doc, err := Apply(New(), balanced)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := Text(doc); got != "This is some text" {
		t.Errorf("Text() = %q, want %q", got, "This is some text")
	}
	if doc.Length != 19 {
		t.Errorf("Length = %d, want 19", doc.Length)
	}

	unbalanced := append(operations.Op{}, balanced[:4]...)
	unbalanced = append(unbalanced, balanced[5])
	_, err = Apply(New(), unbalanced)
	if !errors.Is(err, operations.ErrUnbalancedTags) {
		t.Fatalf("Apply() error = %v, want ErrUnbalancedTags", err)
	}
	var opErr *operations.OpError
	if !errors.As(err, &opErr) || opErr.Tag != "strong" {
		t.Errorf("Apply() error = %#v, want tag strong", err)
	}
}

// TestTagBalanceErrors verifies malformed tag sequences are rejected.
func TestTagBalanceErrors(t *testing.T) {
	tests := []struct {
		name    string
		op      operations.Op
		wantErr error
	}{
		{
			name:    "close without open",
			op:      operations.Op{tagClose("em"), operations.InsertText("x")},
			wantErr: operations.ErrMissingStartTag,
		},
		{
			name:    "open twice",
			op:      operations.Op{tagOpen("b"), operations.InsertText("x"), tagOpen("b"), tagClose("b")},
			wantErr: operations.ErrNestedStartTag,
		},
		{
			name:    "open across paragraphs without close",
			op:      operations.Op{openNode("paragraph"), tagOpen("em"), openNode("paragraph"), operations.InsertText("x")},
			wantErr: operations.ErrUnbalancedTags,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(New(), tt.op); !errors.Is(err, tt.wantErr) {
				t.Errorf("Apply() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestApplyStructure verifies node creation, ids and lengths.
func TestApplyStructure(t *testing.T) {
	doc := twoParagraphs(t)

	if len(doc.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(doc.Children))
	}
	for i, wantID := range []int{1, 2} {
		p := paragraph(t, doc, i)
		if p.ID != wantID {
			t.Errorf("paragraph %d ID = %d, want %d", i, p.ID, wantID)
		}
		if p.Length != 6 {
			t.Errorf("paragraph %d Length = %d, want 6", i, p.Length)
		}
	}
	if doc.Length != 12 {
		t.Errorf("Length = %d, want 12", doc.Length)
	}
	if doc.Seed != 2 {
		t.Errorf("Seed = %d, want 2", doc.Seed)
	}
}

// TestApplyLevels verifies that opening a node closes narrower frames.
func TestApplyLevels(t *testing.T) {
	doc := build(t, operations.Op{
		openNode("section"),
		openNode("paragraph"), operations.InsertText("a"),
		openNode("list"), openNode("item"), operations.InsertText("b"),
		openNode("section"), operations.InsertText("c"),
	})

	if len(doc.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(doc.Children))
	}
	first := paragraph(t, doc, 0)
	if len(first.Children) != 2 {
		t.Fatalf("first section has %d children, want 2", len(first.Children))
	}
	if p := paragraph(t, first, 0); p.Type != "paragraph" || Text(p) != "a" {
		t.Errorf("first section child 0 = %s %q", p.Type, Text(p))
	}
	list := paragraph(t, first, 1)
	if list.Type != "list" {
		t.Fatalf("first section child 1 type = %q, want list", list.Type)
	}
	if item := paragraph(t, list, 0); item.Type != "item" || Text(item) != "b" {
		t.Errorf("list child = %s %q", item.Type, Text(item))
	}
	if second := paragraph(t, doc, 1); Text(second) != "c" {
		t.Errorf("second section text = %q, want c", Text(second))
	}
	if doc.Length != 8 {
		t.Errorf("Length = %d, want 8", doc.Length)
	}
}

// TestApplyIDs verifies seed handling for assigned and explicit ids.
func TestApplyIDs(t *testing.T) {
	doc := build(t, operations.Op{
		operations.NewInsert(operations.Open{Type: "paragraph", ID: 10}),
		operations.InsertText("x"),
		openNode("paragraph"),
	})

	if got := paragraph(t, doc, 1).ID; got != 11 {
		t.Errorf("assigned ID = %d, want 11", got)
	}
	if doc.Seed != 11 {
		t.Errorf("Seed = %d, want 11", doc.Seed)
	}

	// Retained nodes keep their ids.
	next, err := Apply(doc, operations.Op{operations.NewRetain(2), operations.InsertText("y"), operations.NewRetain(1)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := paragraph(t, next, 0).ID; got != 10 {
		t.Errorf("retained ID = %d, want 10", got)
	}
}

// TestApplyMergesParagraphs deletes the second paragraph's slot.
func TestApplyMergesParagraphs(t *testing.T) {
	doc := twoParagraphs(t)

	merged, err := Apply(doc, operations.Op{
		operations.NewRetain(6),
		operations.NewDelete(operations.Open{Type: "paragraph"}),
		operations.NewRetain(5),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(merged.Children) != 1 {
		t.Fatalf("root has %d children, want 1", len(merged.Children))
	}
	p := paragraph(t, merged, 0)
	if !reflect.DeepEqual(p.Children, []Child{operations.Text("HelloWorld")}) {
		t.Errorf("Children = %v, want single text run", p.Children)
	}
	if p.ID != 1 || merged.Length != 11 {
		t.Errorf("ID = %d, Length = %d, want 1, 11", p.ID, merged.Length)
	}

	// The input is untouched.
	if len(doc.Children) != 2 || doc.Length != 12 {
		t.Errorf("input document was modified")
	}
}

// TestApplySharesRetainedSubtrees verifies untouched nodes are reused.
func TestApplySharesRetainedSubtrees(t *testing.T) {
	doc := twoParagraphs(t)

	next, err := Apply(doc, operations.Op{operations.NewRetain(10), operations.InsertText("!"), operations.NewRetain(2)})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if next.Children[0] != doc.Children[0] {
		t.Error("first paragraph was rebuilt, want shared")
	}
	if got := Text(next); got != "HelloWor!ld" {
		t.Errorf("Text() = %q, want %q", got, "HelloWor!ld")
	}
}

// TestApplyLengthConservation checks the result length against TargetLen.
func TestApplyLengthConservation(t *testing.T) {
	doc := twoParagraphs(t)

	ops := []operations.Op{
		{operations.NewRetain(12)},
		{operations.NewRetain(3), operations.DeleteText("ll"), operations.NewRetain(7)},
		{operations.NewRetain(12), openNode("paragraph"), operations.InsertText("again")},
		{operations.NewDelete(operations.Open{Type: "paragraph"}), operations.DeleteText("Hello"), operations.NewRetain(6)},
		{operations.NewRetain(1), tagOpen("em"), operations.NewRetain(5), tagClose("em"), operations.NewRetain(6)},
	}

	for i, op := range ops {
		got, err := Apply(doc, op)
		if err != nil {
			t.Errorf("op %d: Apply() error = %v", i, err)
			continue
		}
		if want := operations.TargetLen(op); got.Length != want {
			t.Errorf("op %d: Length = %d, want %d", i, got.Length, want)
		}
	}
}

// TestApplyLengthMismatch verifies short and long operations are rejected.
func TestApplyLengthMismatch(t *testing.T) {
	doc := twoParagraphs(t)

	for _, op := range []operations.Op{
		{operations.NewRetain(5)},
		{operations.NewRetain(13)},
		{operations.NewRetain(6), operations.DeleteText("toolongdelete")},
	} {
		if _, err := Apply(doc, op); !errors.Is(err, operations.ErrLengthMismatch) {
			t.Errorf("Apply(%v) error = %v, want ErrLengthMismatch", op, err)
		}
	}
}

// formatted is a bold run crossing a paragraph boundary:
// <p>a<b>bc</p><p>de</b></p>
func formatted(t *testing.T) *Node {
	return build(t, operations.Op{
		openNode("paragraph"), operations.InsertText("a"), tagOpen("b"), operations.InsertText("bc"),
		openNode("paragraph"), operations.InsertText("de"), tagClose("b"),
	})
}

// TestTagCache verifies caches on nodes closed with tags open.
func TestTagCache(t *testing.T) {
	doc := formatted(t)

	first := paragraph(t, doc, 0)
	if _, ok := first.TagCache["b"]; !ok || len(first.TagCache) != 1 {
		t.Errorf("first TagCache = %v, want {b}", first.TagCache)
	}
	if second := paragraph(t, doc, 1); len(second.TagCache) != 0 {
		t.Errorf("second TagCache = %v, want empty", second.TagCache)
	}

	t.Run("preserved across retained boundary", func(t *testing.T) {
		next, err := Apply(doc, operations.Op{operations.NewRetain(7), operations.InsertText("X"), operations.NewRetain(2)})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if _, ok := paragraph(t, next, 0).TagCache["b"]; !ok {
			t.Errorf("TagCache lost after edit: %v", paragraph(t, next, 0).TagCache)
		}
		if got := Text(next); got != "abcdXe" {
			t.Errorf("Text() = %q, want %q", got, "abcdXe")
		}
	})

	t.Run("deleting the opening paragraph strands the close", func(t *testing.T) {
		_, err := Apply(doc, operations.Op{
			operations.NewDelete(operations.Open{Type: "paragraph"}),
			operations.DeleteText("a"),
			operations.NewDelete(operations.TagOpen{Tag: "b"}),
			operations.DeleteText("bc"),
			operations.NewRetain(4),
		})
		if !errors.Is(err, operations.ErrMissingStartTag) {
			t.Errorf("Apply() error = %v, want ErrMissingStartTag", err)
		}
	})

	t.Run("deleting both markers", func(t *testing.T) {
		next, err := Apply(doc, operations.Op{
			operations.NewRetain(2),
			operations.NewDelete(operations.TagOpen{Tag: "b"}),
			operations.NewRetain(5),
			operations.NewDelete(operations.TagClose{Tag: "b"}),
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if c := paragraph(t, next, 0).TagCache; len(c) != 0 {
			t.Errorf("TagCache = %v, want empty", c)
		}
	})

	t.Run("keeping the tag while dropping the paragraph", func(t *testing.T) {
		next, err := Apply(doc, operations.Op{
			operations.NewDelete(operations.Open{Type: "paragraph"}),
			operations.DeleteText("a"),
			operations.NewRetain(7),
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got := Text(next); got != "bcde" {
			t.Errorf("Text() = %q, want %q", got, "bcde")
		}
	})
}

// TestTransformConvergence verifies TP1 on tree documents.
func TestTransformConvergence(t *testing.T) {
	tests := []struct {
		name string
		doc  func(*testing.T) *Node
		a    operations.Op
		b    operations.Op
		want string
	}{
		{
			name: "insert against paragraph merge",
			doc:  twoParagraphs,
			a:    operations.Op{operations.NewRetain(3), operations.InsertText("X"), operations.NewRetain(9)},
			b:    operations.Op{operations.NewRetain(6), operations.NewDelete(operations.Open{Type: "paragraph"}), operations.NewRetain(5)},
			want: "HeXlloWorld",
		},
		{
			name: "bold against delete",
			doc:  twoParagraphs,
			a:    operations.Op{operations.NewRetain(7), tagOpen("b"), operations.NewRetain(5), tagClose("b")},
			b:    operations.Op{operations.NewRetain(1), operations.DeleteText("Hello"), operations.NewRetain(6)},
			want: "World",
		},
		{
			name: "split against insert",
			doc:  twoParagraphs,
			a:    operations.Op{operations.NewRetain(3), openNode("paragraph"), operations.NewRetain(9)},
			b:    operations.Op{operations.NewRetain(8), operations.InsertText("!!"), operations.NewRetain(4)},
			want: "HelloW!!orld",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.doc(t)
			bPrime, err := operations.Transform(tt.b, tt.a, operations.Right)
			if err != nil {
				t.Fatalf("Transform(b, a) error = %v", err)
			}
			aPrime, err := operations.Transform(tt.a, tt.b, operations.Left)
			if err != nil {
				t.Fatalf("Transform(a, b) error = %v", err)
			}

			left := applyAll(t, doc, tt.a, bPrime)
			right := applyAll(t, doc, tt.b, aPrime)

			lj, err := Serialize(left)
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			rj, err := Serialize(right)
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if string(lj) != string(rj) {
				t.Errorf("Results don't converge:\n%s\n%s", lj, rj)
			}
			if got := Text(left); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func applyAll(t *testing.T, doc *Node, ops ...operations.Op) *Node {
	t.Helper()
	for i, op := range ops {
		next, err := Apply(doc, op)
		if err != nil {
			t.Fatalf("Apply(op %d) error = %v", i, err)
		}
		doc = next
	}
	return doc
}

// BenchmarkApplyRetained measures an edit at the end of a long document.
func BenchmarkApplyRetained(b *testing.B) {
	var op operations.Op
	for i := 0; i < 500; i++ {
		op = append(op, openNode("paragraph"), operations.InsertText("some paragraph text"))
	}
	doc, err := Apply(New(), op)
	if err != nil {
		b.Fatal(err)
	}
	edit := operations.Op{operations.NewRetain(doc.Length), operations.InsertText("!")}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Apply(doc, edit); err != nil {
			b.Fatal(err)
		}
	}
}
