package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/patch"
)

type (
	// Storage keeps the authoritative Document alongside the top-level property metadata.
	// Storage implements the "soft delete" methodology for metadata.
	Storage struct {
		doc   model.Document
		items map[string]*Item
	}
)

// String implements stringer interface.
func (s *Storage) String() string {
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	str := strings.Builder{}
	for _, key := range keys {
		item := s.items[key]
		str.WriteString(fmt.Sprintf("- %s: deleted=%v by %q at %s\n", key, item.IsDeleted, item.UpdatedBy, item.UpdatedAt.Format(time.RFC3339)))
	}

	return str.String()
}

// Export builds a Document deep copy (snapshot).
func (s *Storage) Export() (model.Document, error) {
	return patch.Copy(s.doc)
}

// Item returns the top-level property metadata.
func (s *Storage) Item(key string) (Item, bool) {
	item, found := s.items[key]
	if !found {
		return Item{}, false
	}

	return *item, true
}

// ApplyOperations updates storage state with PatchOperation list and returns the applied patches merged.
// Operations are applied one by one, a failing one leaves the state of the previous ones.
func (s *Storage) ApplyOperations(ops ...PatchOperation) (model.Patch, error) {
	res := make(model.Patch, 0)
	for i, op := range ops {
		p, err := op.Apply(s)
		if err != nil {
			return res, fmt.Errorf("operation[%d]: %w", i, err)
		}
		res = append(res, p...)
	}

	return res, nil
}

// apply updates the document atomically and tracks the touched top-level properties.
func (s *Storage) apply(p model.Patch, author string, timestamp time.Time) (model.Patch, error) {
	doc, err := patch.Apply(s.doc, p)
	if err != nil {
		return nil, err
	}
	s.doc = doc

	for _, op := range p {
		key := topLevelKey(op.Path)
		if key == "" {
			continue
		}

		item, found := s.items[key]
		if !found {
			item = NewStorageItem(key, author, timestamp)
			s.items[key] = item
		}
		_, exists := s.doc[key]
		item.IsDeleted = !exists
		item.UpdatedBy, item.UpdatedAt = author, timestamp
	}

	return p, nil
}

// topLevelKey returns the unescaped first JSON pointer token.
func topLevelKey(path string) string {
	if !strings.HasPrefix(path, "/") {
		return ""
	}

	token := path[1:]
	if idx := strings.IndexByte(token, '/'); idx >= 0 {
		token = token[:idx]
	}
	token = strings.ReplaceAll(token, "~1", "/")

	return strings.ReplaceAll(token, "~0", "~")
}

// NewStorage creates a new Storage object, doc is copied.
func NewStorage(doc model.Document) (*Storage, error) {
	if doc == nil {
		doc = model.Document{}
	}

	docCopy, err := patch.Copy(doc)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		doc:   docCopy,
		items: make(map[string]*Item, len(doc)),
	}
	for key := range docCopy {
		s.items[key] = NewStorageItem(key, "", time.Time{})
	}

	return s, nil
}
