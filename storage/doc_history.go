package storage

import (
	"fmt"
	"sync"

	"github.com/itiky/collaborate-doc/model"
)

type (
	// DocumentHistory keeps the document history alongside cache used to session requests.
	DocumentHistory struct {
		sync.RWMutex
		// Initial document (v0)
		initial model.Document
		// List of document versions
		documents []Document
		// Latest version storage state
		storage *Storage
		// The current document version
		latestVersion int
	}

	Document struct {
		Version int
		// Session patch to apply on previous document version in order to upgrade it
		InputOperation PatchOperation
		// Patch forwarded to the other sessions
		OutputPatch model.Patch
	}
)

// AddVersion applies the operation and adds a new Document version on success.
func (h *DocumentHistory) AddVersion(op PatchOperation) (int, error) {
	h.Lock()
	defer h.Unlock()

	// Update the storage state
	outPatch, err := h.storage.ApplyOperations(op)
	if err != nil {
		return h.latestVersion, err
	}

	// Add a new document version
	h.documents = append(h.documents, Document{
		Version:        h.documents[len(h.documents)-1].Version + 1,
		InputOperation: op,
		OutputPatch:    outPatch,
	})

	// Update the version
	h.latestVersion = len(h.documents) - 1

	return h.latestVersion, nil
}

// GetOutputDiffWithLatest returns the latest version and the patch a session has to apply
// on its version in order to upgrade it to the latest one.
// Operations authored by excludeAuthor are skipped as the session already holds them.
func (h *DocumentHistory) GetOutputDiffWithLatest(version int, excludeAuthor string) (int, model.Patch) {
	h.RLock()
	defer h.RUnlock()

	diff := make(model.Patch, 0)

	startVersion := version + 1
	if startVersion < 1 || !h.isVersionValid(startVersion) {
		return h.latestVersion, diff
	}

	for i := startVersion; i <= h.latestVersion; i++ {
		if excludeAuthor != "" && h.documents[i].InputOperation.Author == excludeAuthor {
			continue
		}
		diff = append(diff, h.documents[i].OutputPatch...)
	}

	return h.latestVersion, diff
}

// GetOutputSnapshot returns latest snapshot version and data.
// Action is performed for new session connections in order to get the local snapshot.
func (h *DocumentHistory) GetOutputSnapshot() (int, model.Document, error) {
	h.RLock()
	defer h.RUnlock()

	doc, err := h.storage.Export()
	if err != nil {
		return h.latestVersion, nil, err
	}

	return h.latestVersion, doc, nil
}

// BuildStorage builds a Storage snapshot for the specified version.
// Makes possible to build a snapshot for all previous document versions.
func (h *DocumentHistory) BuildStorage(version int) (*Storage, error) {
	h.RLock()
	defer h.RUnlock()

	if version < 0 || !h.isVersionValid(version) {
		return nil, fmt.Errorf("version (%d): not found", version)
	}

	storage, err := NewStorage(h.initial)
	if err != nil {
		return nil, err
	}
	for i := 1; i <= version; i++ {
		if _, err := storage.ApplyOperations(h.documents[i].InputOperation); err != nil {
			return nil, fmt.Errorf("version (%d): %w", i, err)
		}
	}

	return storage, nil
}

// GetItem returns the latest metadata of a top-level property.
func (h *DocumentHistory) GetItem(key string) (Item, bool) {
	h.RLock()
	defer h.RUnlock()

	return h.storage.Item(key)
}

// LatestVersion returns the current document version.
func (h *DocumentHistory) LatestVersion() int {
	h.RLock()
	defer h.RUnlock()

	return h.latestVersion
}

// IsVersionValid checks if document version exists.
func (h *DocumentHistory) IsVersionValid(version int) bool {
	h.RLock()
	defer h.RUnlock()

	return h.isVersionValid(version)
}

func (h *DocumentHistory) isVersionValid(version int) bool {
	return version >= 0 && version < len(h.documents)
}

// NewDocumentHistory creates a new DocumentHistory object with a single version (v0) holding doc.
func NewDocumentHistory(doc model.Document) (*DocumentHistory, error) {
	storage, err := NewStorage(doc)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	initial, err := storage.Export()
	if err != nil {
		return nil, fmt.Errorf("storage export: %w", err)
	}

	return &DocumentHistory{
		initial:   initial,
		documents: []Document{{Version: 0}},
		storage:   storage,
	}, nil
}
