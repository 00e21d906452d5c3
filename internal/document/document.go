package document

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"richtext-ot/internal/operations"
	"richtext-ot/internal/tree"
)

// DefaultHistoryLimit is the number of applied operations kept for
// transforming late-arriving edits.
const DefaultHistoryLimit = 1000

// ErrInvalidVersion means an operation was based on a version the document
// cannot transform from: one it has not reached yet, or one older than the
// retained history.
var ErrInvalidVersion = errors.New("invalid base version")

// Applied is an operation as it was applied to the document, after
// transformation against everything that happened since its base version.
type Applied struct {
	ID       string        `json:"id"`
	ClientID string        `json:"clientId"`
	Version  int           `json:"version"` // version the operation produced
	Op       operations.Op `json:"op"`
}

// Document represents thread-safe shared document state.
// It tracks the tree snapshot, version number, recent history, the
// cursors of connected clients and last modification time.
type Document struct {
	content      *tree.Node
	version      int
	lastModified time.Time
	history      []Applied
	historyLimit int
	cursors      map[string]int
	mu           sync.RWMutex
}

// NewDocument creates a new empty document.
func NewDocument() *Document {
	return &Document{
		content:      tree.New(),
		version:      0,
		lastModified: time.Now(),
		historyLimit: DefaultHistoryLimit,
		cursors:      make(map[string]int),
	}
}

// SetHistoryLimit changes how many applied operations are retained.
func (d *Document) SetHistoryLimit(limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	d.historyLimit = limit
	d.trimHistory()
}

// GetContent returns the current document tree.
func (d *Document) GetContent() *tree.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// GetText returns the plain text of the current document.
func (d *Document) GetText() string {
	return tree.Text(d.GetContent())
}

// SetSnapshot replaces the document with a stored snapshot. History from
// before the snapshot is dropped, so clients must rebase onto version.
func (d *Document) SetSnapshot(content *tree.Node, version int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if content == nil {
		content = tree.New()
	}
	d.content = content
	d.version = version
	d.history = nil
	d.lastModified = time.Now()
	for client, pos := range d.cursors {
		d.cursors[client] = min(pos, content.Length)
	}
}

// GetVersion returns the current version number.
func (d *Document) GetVersion() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// GetStats returns document version, last modified time, and content length.
func (d *Document) GetStats() (version int, lastModified time.Time, length int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, d.lastModified, d.content.Length
}

// GetSnapshot atomically returns both content and version.
func (d *Document) GetSnapshot() (*tree.Node, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content, d.version
}

// ApplyOperation applies an OT operation created by clientID against
// baseVersion. The operation is first transformed against every operation
// applied since then; those win ties for the same position. Tracked
// cursors are moved across the result.
func (d *Document) ApplyOperation(clientID string, baseVersion int, op operations.Op) (Applied, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	missed := d.version - baseVersion
	if missed < 0 || missed > len(d.history) {
		return Applied{}, fmt.Errorf("%w: base %d, current %d", ErrInvalidVersion, baseVersion, d.version)
	}

	for _, h := range d.history[len(d.history)-missed:] {
		transformed, err := operations.Transform(op, h.Op, operations.Right)
		if err != nil {
			return Applied{}, fmt.Errorf("failed to transform against version %d: %w", h.Version, err)
		}
		op = transformed
	}

	newContent, err := tree.Apply(d.content, op)
	if err != nil {
		return Applied{}, err
	}

	d.content = newContent
	d.version++
	d.lastModified = time.Now()

	applied := Applied{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Version:  d.version,
		Op:       op,
	}
	d.history = append(d.history, applied)
	d.trimHistory()

	for client, pos := range d.cursors {
		d.cursors[client] = operations.TransformCursor(pos, op, client == clientID)
	}

	return applied, nil
}

// OpsSince returns the operations applied after version, oldest first.
func (d *Document) OpsSince(version int) ([]Applied, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	missed := d.version - version
	if missed < 0 || missed > len(d.history) {
		return nil, fmt.Errorf("%w: base %d, current %d", ErrInvalidVersion, version, d.version)
	}
	out := make([]Applied, missed)
	copy(out, d.history[len(d.history)-missed:])
	return out, nil
}

// SetCursor records a client's caret position, clamped to the document.
func (d *Document) SetCursor(clientID string, pos int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos = min(max(pos, 0), d.content.Length)
	d.cursors[clientID] = pos
	return pos
}

// RemoveCursor stops tracking a client's caret.
func (d *Document) RemoveCursor(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cursors, clientID)
}

// Cursors returns a copy of every tracked caret position.
func (d *Document) Cursors() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.cursors)
}

func (d *Document) trimHistory() {
	if extra := len(d.history) - d.historyLimit; extra > 0 {
		d.history = append([]Applied(nil), d.history[extra:]...)
	}
}
