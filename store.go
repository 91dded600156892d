package spatialindexer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// On-disk layout of a committed index directory.
const (
	indexFile     = "index.db"
	schemaVersion = 1
)

var (
	bucketRecords = []byte("records") // id -> gob(storedRecord)
	bucketCells   = []byte("cells")   // token 0x00 id -> empty
	bucketTerms   = []byte("terms")   // term 0x00 id -> empty
	bucketMeta    = []byte("meta")    // "meta" -> gob(Meta)
	bucketJournal = []byte("journal") // lock file only

	keyMeta = []byte("meta")

	indexBuckets = [][]byte{bucketRecords, bucketCells, bucketTerms, bucketMeta}
)

// Meta describes a committed index.
type Meta struct {
	Schema  int
	Field   string
	Levels  int
	Records int
	BuildID string
	BuiltAt time.Time
}

type storedRecord struct {
	Name   string
	Coords string
}

// postingOverhead is the separator plus the record id appended to a term or
// cell token in a posting key.
const postingOverhead = 1 + 8

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func postingKey(value string, id uint64) []byte {
	k := make([]byte, 0, len(value)+postingOverhead)
	k = append(k, value...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint64(k, id)
}

func postingPrefix(value string) []byte {
	return append([]byte(value), 0)
}

// postingID extracts the record id from a posting key.
func postingID(k []byte) (uint64, bool) {
	if len(k) < postingOverhead || k[len(k)-postingOverhead] != 0 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[len(k)-8:]), true
}

// hasKey reports whether k is present. Posting values are empty, so Get
// cannot tell a missing key from a present one.
func hasKey(b *bolt.Bucket, k []byte) bool {
	found, _ := b.Cursor().Seek(k)
	return found != nil && bytes.Equal(found, k)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// corruptStore reports errors bbolt returns for a file that is not a usable
// database.
func corruptStore(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrChecksum) ||
		errors.Is(err, bolt.ErrVersionMismatch)
}

// openLockStore opens the per-destination lock file, taking bbolt's
// exclusive file lock. A file that is not a bbolt database is replaced once.
func openLockStore(path string, timeout time.Duration) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: timeout})
	if err != nil && corruptStore(err) {
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, fmt.Errorf("removing unusable lock file: %w", rmErr)
		}
		db, err = bolt.Open(path, 0o644, &bolt.Options{Timeout: timeout})
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// resetBuckets drops every bucket in tx and creates the empty index layout.
func resetBuckets(tx *bolt.Tx) error {
	var names [][]byte
	if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		names = append(names, append([]byte(nil), name...))
		return nil
	}); err != nil {
		return err
	}
	for _, name := range names {
		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("dropping bucket %s: %w", name, err)
		}
	}
	for _, name := range indexBuckets {
		if _, err := tx.CreateBucket(name); err != nil {
			return fmt.Errorf("creating bucket %s: %w", name, err)
		}
	}
	return nil
}
