package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"richtext-ot/internal/operations"
	"richtext-ot/internal/tree"
)

// memorySnapshots is an in-process tier for testing Tiered.
type memorySnapshots struct {
	docs     map[string]*tree.Node
	versions map[string]int
	err      error
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{docs: map[string]*tree.Node{}, versions: map[string]int{}}
}

func (m *memorySnapshots) Save(ctx context.Context, docID string, version int, doc *tree.Node) error {
	if m.err != nil {
		return m.err
	}
	m.docs[docID] = doc
	m.versions[docID] = version
	return nil
}

func (m *memorySnapshots) Latest(ctx context.Context, docID string) (*tree.Node, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	doc, ok := m.docs[docID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return doc, m.versions[docID], nil
}

func sampleDoc(t *testing.T) *tree.Node {
	t.Helper()
	doc, err := tree.Apply(tree.New(), operations.Op{
		operations.NewInsert(operations.Open{Type: "paragraph"}),
		operations.InsertText("stored text"),
	})
	if err != nil {
		t.Fatalf("tree.Apply() error = %v", err)
	}
	return doc
}

// TestKeys verifies the Redis key layout.
func TestKeys(t *testing.T) {
	if got := snapshotKey("doc-1"); got != "richtext:doc:{doc-1}:snapshot" {
		t.Errorf("snapshotKey() = %q", got)
	}
	if got := cursorsKey("doc-1"); got != "richtext:doc:{doc-1}:cursors" {
		t.Errorf("cursorsKey() = %q", got)
	}
}

// TestTiered verifies read fallthrough and write fan-out.
func TestTiered(t *testing.T) {
	ctx := context.Background()
	fast, slow := newMemorySnapshots(), newMemorySnapshots()
	tiers := Tiered{fast, slow}

	if _, _, err := tiers.Latest(ctx, "doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest() on empty tiers error = %v, want ErrNotFound", err)
	}

	doc := sampleDoc(t)
	slow.docs["doc"], slow.versions["doc"] = doc, 3
	got, version, err := tiers.Latest(ctx, "doc")
	if err != nil || got != doc || version != 3 {
		t.Errorf("Latest() = %v, %d, %v, want slow tier snapshot", got, version, err)
	}

	if err := tiers.Save(ctx, "doc", 4, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if fast.versions["doc"] != 4 || slow.versions["doc"] != 4 {
		t.Errorf("Save() versions = %d, %d, want 4, 4", fast.versions["doc"], slow.versions["doc"])
	}

	t.Run("failing tier is skipped", func(t *testing.T) {
		broken := newMemorySnapshots()
		broken.err = errors.New("connection refused")
		tiers := Tiered{broken, slow}

		if _, version, err := tiers.Latest(ctx, "doc"); err != nil || version != 4 {
			t.Errorf("Latest() = %d, %v, want 4, nil", version, err)
		}
		if err := tiers.Save(ctx, "doc", 5, doc); !errors.Is(err, broken.err) {
			t.Errorf("Save() error = %v, want %v", err, broken.err)
		}
		if _, _, err := (Tiered{broken}).Latest(ctx, "doc"); !errors.Is(err, broken.err) {
			t.Errorf("Latest() error = %v, want %v", err, broken.err)
		}
	})
}

// TestRedisCache runs against a local Redis when one is available.
func TestRedisCache(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	docID := "store-test-" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, snapshotKey(docID), cursorsKey(docID))

	cache := NewRedisCache(rdb, time.Minute)
	if _, _, err := cache.Latest(ctx, docID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest() error = %v, want ErrNotFound", err)
	}

	doc := sampleDoc(t)
	if err := cache.Save(ctx, docID, 7, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, version, err := cache.Latest(ctx, docID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if version != 7 || tree.Text(got) != "stored text" {
		t.Errorf("Latest() = %q, %d, want stored text, 7", tree.Text(got), version)
	}

	if err := cache.SetCursor(ctx, docID, "alice", 4); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}
	if err := cache.SetCursor(ctx, docID, "bob", 9); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}
	if err := cache.RemoveCursor(ctx, docID, "bob"); err != nil {
		t.Fatalf("RemoveCursor() error = %v", err)
	}
	cursors, err := cache.Cursors(ctx, docID)
	if err != nil {
		t.Fatalf("Cursors() error = %v", err)
	}
	if len(cursors) != 1 || cursors["alice"] != 4 {
		t.Errorf("Cursors() = %v, want map[alice:4]", cursors)
	}
}

// TestSnapshotStore runs against MySQL when COLLAB_TEST_MYSQL_DSN is set.
func TestSnapshotStore(t *testing.T) {
	dsn := os.Getenv("COLLAB_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skip: COLLAB_TEST_MYSQL_DSN not set")
	}
	db, err := InitMySQL(dsn)
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}

	ctx := context.Background()
	s := NewSnapshotStore(db)
	docID := "store-test-" + time.Now().Format("150405.000000")
	defer db.Where("document_id = ?", docID).Delete(&Snapshot{})

	if _, _, err := s.Latest(ctx, docID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest() error = %v, want ErrNotFound", err)
	}

	doc := sampleDoc(t)
	for _, v := range []int{1, 2, 2} {
		if err := s.Save(ctx, docID, v, doc); err != nil {
			t.Fatalf("Save(%d) error = %v", v, err)
		}
	}

	got, version, err := s.Latest(ctx, docID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if version != 2 || tree.Text(got) != "stored text" {
		t.Errorf("Latest() = %q, %d, want stored text, 2", tree.Text(got), version)
	}
}
