package storage

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/itiky/collaborate-doc/model"
)

// GenAndSaveInitialDocument generates a random document and saves it to file system.
func GenAndSaveInitialDocument(filePath string, docSize int) error {
	if docSize <= 0 {
		return fmt.Errorf("%s: must be GT 0", "docSize")
	}

	glog.Infof("Creating document...")
	doc := newMockDocument(docSize)

	glog.Infof("JSON marshal...")
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("JSON marshal: %w", err)
	}

	glog.Infof("Saving file...")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("write to file (%s): %w", filePath, err)
	}

	glog.Infof("Done")

	return nil
}

// NewDocHistoryFromFile builds the DocumentHistory object with a single version (v0) from the JSON file.
func NewDocHistoryFromFile(filePath string) (*DocumentHistory, error) {
	glog.Infof("Reading file...")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading file (%s): %w", filePath, err)
	}

	glog.Infof("JSON unmarshal...")
	doc, _, err := model.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("JSON unmarshal: %w", err)
	}

	glog.Infof("DocHistory creation...")
	docHistory, err := NewDocumentHistory(doc)
	if err != nil {
		return nil, err
	}

	glog.Infof("Document loaded: %d properties", len(doc))

	return docHistory, nil
}

// newMockDocument builds a document with n random properties.
func newMockDocument(n int) model.Document {
	doc := make(model.Document, n)
	for i := 0; i < n; i++ {
		doc[uuid.New().String()] = rand.Int31()
	}

	return doc
}
