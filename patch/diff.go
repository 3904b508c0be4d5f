// Package patch holds the pure JSON-Patch primitives used on both ends of a
// synchronization session: diff, apply, outgoing filtering and numeric
// validation.
package patch

import (
	"encoding/json"
	"fmt"

	"github.com/brunoga/deep"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/itiky/collaborate-doc/model"
)

// Diff returns the operations transforming from into to.
// Object keys are visited in sorted order, so the result is deterministic.
func Diff(from, to model.Document) (model.Patch, error) {
	ops, err := jsondiff.Compare(from, to)
	if err != nil {
		return nil, fmt.Errorf("jsondiff.Compare: %w", err)
	}

	p := make(model.Patch, 0, len(ops))
	for _, op := range ops {
		p = append(p, model.Operation{
			Op:    model.OperationType(op.Type),
			Path:  string(op.Path),
			From:  string(op.From),
			Value: op.Value,
		})
	}

	return p, nil
}

// Apply returns a new Document with the patch applied; doc is left untouched.
func Apply(doc model.Document, p model.Patch) (model.Document, error) {
	if len(p) == 0 {
		return Copy(doc)
	}

	docRaw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document marshal: %w", err)
	}
	patchRaw, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("patch marshal: %w", err)
	}

	ops, err := jsonpatch.DecodePatch(patchRaw)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch.DecodePatch: %w", err)
	}
	resRaw, err := ops.Apply(docRaw)
	if err != nil {
		return nil, fmt.Errorf("jsonpatch.Apply: %w", err)
	}

	res := model.Document{}
	if err := json.Unmarshal(resRaw, &res); err != nil {
		return nil, fmt.Errorf("document unmarshal: %w", err)
	}

	return res, nil
}

// Copy returns a deep copy of the document.
func Copy(doc model.Document) (model.Document, error) {
	if doc == nil {
		return nil, nil
	}

	res, err := deep.Copy(doc)
	if err != nil {
		return nil, fmt.Errorf("deep.Copy: %w", err)
	}

	return res, nil
}
