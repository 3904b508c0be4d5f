package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Item keeps the Storage top-level property metadata.
	Item struct {
		Key       string
		IsDeleted bool
		UpdatedBy string
		UpdatedAt time.Time
	}
)

// String implements stringer interface.
func (i Item) String() string {
	raw, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Sprintf("marshal: %v", err)
	}

	return string(raw)
}

// NewStorageItem creates a new Item object (no validation as it is used internaly).
func NewStorageItem(key, author string, timestamp time.Time) *Item {
	return &Item{
		Key:       key,
		UpdatedBy: author,
		UpdatedAt: timestamp,
	}
}
