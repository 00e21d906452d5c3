package store

import (
	"context"
	"errors"

	"richtext-ot/internal/tree"
)

// Snapshots is a place document snapshots can be saved to and loaded from.
type Snapshots interface {
	Save(ctx context.Context, docID string, version int, doc *tree.Node) error
	Latest(ctx context.Context, docID string) (*tree.Node, int, error)
}

// Tiered reads from the first tier that has a snapshot and writes to all
// of them. Put the fastest tier first.
type Tiered []Snapshots

// Save writes the snapshot to every tier and reports every failure.
func (t Tiered) Save(ctx context.Context, docID string, version int, doc *tree.Node) error {
	var errs []error
	for _, s := range t {
		if err := s.Save(ctx, docID, version, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the snapshot of the first tier that has one. A tier that
// fails is skipped; its error is returned only if no tier succeeds.
func (t Tiered) Latest(ctx context.Context, docID string) (*tree.Node, int, error) {
	var errs []error
	for _, s := range t {
		doc, version, err := s.Latest(ctx, docID)
		if err == nil {
			return doc, version, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, 0, errors.Join(errs...)
	}
	return nil, 0, ErrNotFound
}
