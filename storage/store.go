package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/itiky/collaborate-doc/model"
)

var (
	snapshotBucket = []byte("snapshot")
	versionKey     = []byte("version")
	documentKey    = []byte("document")

	// ErrNoSnapshot is returned by Store.Load when nothing has been saved yet.
	ErrNoSnapshot = errors.New("no snapshot stored")
)

// Store persists the latest document snapshot in a bolt database.
type Store struct {
	db *bolt.DB
}

// Save replaces the stored snapshot.
func (s *Store) Save(version int, doc model.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("document encode: %w", err)
	}

	versionRaw := make([]byte, 8)
	binary.BigEndian.PutUint64(versionRaw, uint64(version))

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return err
		}
		if err := b.Put(versionKey, versionRaw); err != nil {
			return err
		}

		return b.Put(documentKey, data)
	})
}

// Load returns the stored snapshot, ErrNoSnapshot if there is none.
func (s *Store) Load() (version int, doc model.Document, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return ErrNoSnapshot
		}

		versionRaw, data := b.Get(versionKey), b.Get(documentKey)
		if len(versionRaw) != 8 || data == nil {
			return ErrNoSnapshot
		}
		version = int(binary.BigEndian.Uint64(versionRaw))

		// data is only valid within the transaction
		doc, _, err = model.DecodeDocument(data)
		return err
	})

	return
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenStore opens (creates) the bolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open (%s): %w", path, err)
	}

	return &Store{db: db}, nil
}
