package storage

import (
	"fmt"
	"time"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/patch"
)

type (
	// PatchOperation is a session patch to apply on Storage to update its state.
	PatchOperation struct {
		Patch     model.Patch
		Author    string
		Timestamp time.Time
	}
)

// Apply updates the storage state and returns the patch to forward to other sessions.
func (o PatchOperation) Apply(s *Storage) (model.Patch, error) {
	return s.apply(o.Patch, o.Author, o.Timestamp)
}

// NewPatchOperation creates a valid PatchOperation object.
func NewPatchOperation(author string, p model.Patch, timestamp time.Time) (PatchOperation, error) {
	if len(p) == 0 {
		return PatchOperation{}, fmt.Errorf("%s: empty", "patch")
	}
	if timestamp.IsZero() {
		return PatchOperation{}, fmt.Errorf("%s: zero", "timestamp")
	}
	for i, op := range p {
		if op.Path == "" {
			return PatchOperation{}, fmt.Errorf("operation[%d] (%s): %s: empty", i, op.Op, "path")
		}
	}
	if err := patch.Validate(p, model.DirectionIncoming); err != nil {
		return PatchOperation{}, err
	}

	return PatchOperation{
		Patch:     p,
		Author:    author,
		Timestamp: timestamp,
	}, nil
}
