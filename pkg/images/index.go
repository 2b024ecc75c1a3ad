// Package images keeps a controller-side index of emulator images uploaded
// through the RPC forwarding path: checksum, size and owning compute. The
// index answers image list queries without a round trip to the compute.
package images

import (
	"encoding/json"
	"fmt"
	"sort"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/netloom/netloom/pkg/controller"
)

// keyPrefix namespaces index entries inside the database.
const keyPrefix = "image/"

// Index is a badger-backed image index implementing controller.ImageIndex.
type Index struct {
	db *badgerdb.DB
}

// Open creates or opens the index at dir.
func Open(dir string) (*Index, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open image index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

func imageKey(computeID, emulator, filename string) []byte {
	return []byte(keyPrefix + computeID + "/" + emulator + "/" + filename)
}

// Record stores or replaces the entry for one uploaded image.
func (i *Index) Record(computeID, emulator, filename, checksum string, size int64) error {
	info := controller.ImageInfo{
		ComputeID: computeID,
		Emulator:  emulator,
		Filename:  filename,
		Checksum:  checksum,
		Size:      size,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode image entry: %w", err)
	}

	return i.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(imageKey(computeID, emulator, filename), data); err != nil {
			return fmt.Errorf("failed to store image entry: %w", err)
		}
		return nil
	})
}

// List returns all indexed images of one compute, sorted by emulator then
// filename.
func (i *Index) List(computeID string) ([]controller.ImageInfo, error) {
	var out []controller.ImageInfo

	err := i.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix + computeID + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var info controller.ImageInfo
				if err := json.Unmarshal(val, &info); err != nil {
					return fmt.Errorf("corrupt image entry %s: %w", it.Item().Key(), err)
				}
				out = append(out, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Emulator != out[b].Emulator {
			return out[a].Emulator < out[b].Emulator
		}
		return out[a].Filename < out[b].Filename
	})
	return out, nil
}

// Forget drops every entry of a deregistered compute.
func (i *Index) Forget(computeID string) error {
	return i.db.Update(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.IteratorOptions{PrefetchValues: false})
		defer it.Close()

		prefix := []byte(keyPrefix + computeID + "/")
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("failed to drop image entry %s: %w", key, err)
			}
		}
		return nil
	})
}

var _ controller.ImageIndex = (*Index)(nil)
