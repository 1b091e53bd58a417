// Package cache provides the persistent, size-bounded store for compiled
// objects.
//
// Entries are addressed by a fingerprint key that captures every input
// affecting the compiler's output. Each entry is a single blob file under
// the cache directory; recency and size accounting live in a BoltDB
// index beside the blobs:
//
//  1. Blobs are written to a temp file and atomically renamed into place,
//     so a reader never observes a partial entry.
//  2. Reads bump the entry's last-access time in the index.
//  3. When a put pushes the total stored size past the configured
//     maximum, the least recently accessed entries are evicted until the
//     new entry fits. A maximum of zero disables eviction.
//
// Missing or corrupted entries degrade to cache misses, never hard
// errors, so partial cache state cannot wedge a build.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.etcd.io/bbolt"
)

const (
	// indexFileName is the BoltDB file holding the entry index
	indexFileName = "index.db"

	// objectsDirName is the subdirectory holding entry blobs
	objectsDirName = "objects"

	// bucketName is the BoltDB bucket name for entry metadata
	bucketName = "entries"
)

// entryMeta is the per-entry index record.
type entryMeta struct {
	// Size is the on-disk size of the blob in bytes
	Size int64 `json:"size"`

	// LastAccess is the unix-nano timestamp of the most recent read or write
	LastAccess int64 `json:"last_access"`
}

// Cache is a disk-backed key to Entry store with LRU eviction.
type Cache struct {
	db      *bbolt.DB
	root    string
	maxSize int64 // total blob budget in bytes, 0 means unbounded
}

// Open creates or reopens a cache rooted at dir. maxSize bounds the
// total size of stored blobs in bytes; zero means unbounded.
func Open(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, objectsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, indexFileName)
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:      db,
		root:    dir,
		maxSize: maxSize,
	}, nil
}

// Close closes the cache index.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.root
}

// MaxSize returns the configured size budget in bytes (0 = unbounded).
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Get retrieves an entry and marks it recently used. A missing or
// unreadable entry is a miss, not an error.
func (c *Cache) Get(key string) (*Entry, bool, error) {
	var known bool

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data := b.Get([]byte(key))
		if data == nil {
			return nil // miss
		}

		var meta entryMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			// Corrupt index record, drop it
			return b.Delete([]byte(key))
		}

		known = true
		meta.LastAccess = time.Now().UnixNano()

		updated, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), updated)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache index: %w", err)
	}

	if !known {
		return nil, false, nil
	}

	f, err := os.Open(c.blobPath(key))
	if err != nil {
		// Indexed but blob gone: treat as a miss and forget the key
		c.forget(key)
		return nil, false, nil
	}
	defer f.Close()

	entry, err := decodeEntry(f)
	if err != nil {
		// Corrupted blob: treat as a miss and drop it
		c.forget(key)
		return nil, false, nil
	}

	return entry, true, nil
}

// Put stores an entry under key, overwriting any previous value, then
// evicts least-recently-used entries until the store fits the budget.
func (c *Cache) Put(key string, entry *Entry) error {
	blob, err := entry.encode()
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(c.blobPath(key), bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		meta := entryMeta{
			Size:       int64(len(blob)),
			LastAccess: time.Now().UnixNano(),
		}

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		if err := b.Put([]byte(key), data); err != nil {
			return err
		}

		return c.evict(b, key)
	})
	if err != nil {
		return fmt.Errorf("failed to update cache index: %w", err)
	}

	return nil
}

// evict removes least-recently-accessed entries until the total size is
// within budget. The entry under keep is never evicted.
func (c *Cache) evict(b *bbolt.Bucket, keep string) error {
	if c.maxSize <= 0 {
		return nil
	}

	for {
		var (
			total   int64
			lruKey  string
			lruTime int64
		)

		err := b.ForEach(func(k, v []byte) error {
			var meta entryMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return nil // skip corrupt records, forget() handles them later
			}

			total += meta.Size

			if string(k) != keep && (lruKey == "" || meta.LastAccess < lruTime) {
				lruKey = string(k)
				lruTime = meta.LastAccess
			}

			return nil
		})
		if err != nil {
			return err
		}

		if total <= c.maxSize || lruKey == "" {
			return nil
		}

		if err := b.Delete([]byte(lruKey)); err != nil {
			return err
		}

		// Blob removal failing just leaves an orphan to be cleaned on a
		// later miss; it must not fail the put.
		_ = os.Remove(c.blobPath(lruKey))
	}
}

// forget drops a key from the index and removes its blob, ignoring
// errors. Used to clean up entries found missing or corrupted.
func (c *Cache) forget(key string) {
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
	_ = os.Remove(c.blobPath(key))
}

// Size returns the total size in bytes of all indexed blobs.
func (c *Cache) Size() (int64, error) {
	var total int64

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var meta entryMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return nil
			}

			total += meta.Size
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read cache index: %w", err)
	}

	return total, nil
}

// EntryCount returns the number of indexed entries.
func (c *Cache) EntryCount() (int, error) {
	var count int

	err := c.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read cache index: %w", err)
	}

	return count, nil
}

// blobPath returns the blob file path for a key.
func (c *Cache) blobPath(key string) string {
	return filepath.Join(c.root, objectsDirName, key)
}
