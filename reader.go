package spatialindexer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"
	bolt "go.etcd.io/bbolt"
)

// maxFuzzyDistance caps typo tolerance for term lookups. Larger distances
// match almost every short term.
const maxFuzzyDistance = 3

// Document is a record read back from a committed index.
type Document struct {
	ID     uint64
	Name   string
	Coords string
}

// Point parses the stored coordinates.
func (d Document) Point() (Point, error) {
	return ParsePoint(d.Coords)
}

// Reader gives read-only access to a committed index. Readers take a shared
// lock and keep seeing the index they opened even if a later build replaces
// the directory.
type Reader struct {
	path string
	db   *bolt.DB
	meta Meta
}

// OpenReader opens the committed index in directory path.
func OpenReader(path string) (*Reader, error) {
	db, err := bolt.Open(filepath.Join(path, indexFile), 0o444, &bolt.Options{
		ReadOnly: true,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}

	r := &Reader{path: path, db: db}
	err = db.View(func(tx *bolt.Tx) error {
		for _, name := range indexBuckets {
			if tx.Bucket(name) == nil {
				return fmt.Errorf("%w: missing bucket %s", ErrCorruptIndex, name)
			}
		}
		data := tx.Bucket(bucketMeta).Get(keyMeta)
		if data == nil {
			return fmt.Errorf("%w: missing metadata", ErrCorruptIndex)
		}
		if err := decodeGob(data, &r.meta); err != nil {
			return fmt.Errorf("%w: decoding metadata: %w", ErrCorruptIndex, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	return r, nil
}

// Close releases the index.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the index directory.
func (r *Reader) Path() string {
	return r.path
}

// Meta returns the build metadata.
func (r *Reader) Meta() Meta {
	return r.meta
}

// Count returns the number of stored records.
func (r *Reader) Count() (int, error) {
	var n int
	err := r.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	return n, err
}

// Document returns the record with the given id.
func (r *Reader) Document(id uint64) (Document, error) {
	var doc Document
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = loadDocument(tx, id)
		return err
	})
	return doc, err
}

// Cell returns every record whose point lies in the cell named by token, at
// any indexed level.
func (r *Reader) Cell(token string) ([]Document, error) {
	if _, err := CellBounds(token); err != nil {
		return nil, err
	}
	var docs []Document
	err := r.db.View(func(tx *bolt.Tx) error {
		ids := postings(tx.Bucket(bucketCells), token)
		var err error
		docs, err = loadDocuments(tx, ids)
		return err
	})
	return docs, err
}

// Term returns records whose name contains term. With maxDist > 0, terms
// within that edit distance also match; maxDist is capped at 3.
func (r *Reader) Term(term string, maxDist int) ([]Document, error) {
	term = foldName(term)
	if maxDist > maxFuzzyDistance {
		maxDist = maxFuzzyDistance
	}
	var docs []Document
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTerms)
		var ids []uint64
		if maxDist <= 0 {
			ids = postings(b, term)
		} else {
			seen := map[uint64]struct{}{}
			err := b.ForEach(func(k, _ []byte) error {
				id, ok := postingID(k)
				if !ok {
					return fmt.Errorf("%w: malformed term key %q", ErrCorruptIndex, k)
				}
				t := string(k[:len(k)-postingOverhead])
				if levenshtein.ComputeDistance(term, t) > maxDist {
					return nil
				}
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
				return nil
			})
			if err != nil {
				return err
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		}
		var err error
		docs, err = loadDocuments(tx, ids)
		return err
	})
	return docs, err
}

// Name returns records whose name equals name, ignoring case.
func (r *Reader) Name(name string) ([]Document, error) {
	want := foldName(name)
	terms := analyze(name)

	var docs []Document
	err := r.db.View(func(tx *bolt.Tx) error {
		keep := func(d Document) {
			if foldName(d.Name) == want {
				docs = append(docs, d)
			}
		}

		if len(terms) == 0 {
			// Names made only of stop words or punctuation have no postings.
			return forEachDocument(tx, func(d Document) error {
				keep(d)
				return nil
			})
		}

		b := tx.Bucket(bucketTerms)
		ids := postings(b, terms[0])
		for _, t := range terms[1:] {
			ids = intersect(ids, postings(b, t))
		}
		candidates, err := loadDocuments(tx, ids)
		if err != nil {
			return err
		}
		for _, d := range candidates {
			keep(d)
		}
		return nil
	})
	return docs, err
}

// ForEach calls fn for every record in id order.
func (r *Reader) ForEach(fn func(Document) error) error {
	return r.db.View(func(tx *bolt.Tx) error {
		return forEachDocument(tx, fn)
	})
}

// postings returns the ids posted under value, ascending.
func postings(b *bolt.Bucket, value string) []uint64 {
	prefix := postingPrefix(value)
	var ids []uint64
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		if id, ok := postingID(k); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// intersect merges two ascending id lists.
func intersect(a, b []uint64) []uint64 {
	var out []uint64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func loadDocument(tx *bolt.Tx, id uint64) (Document, error) {
	data := tx.Bucket(bucketRecords).Get(idKey(id))
	if data == nil {
		return Document{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return decodeDocument(id, data)
}

func loadDocuments(tx *bolt.Tx, ids []uint64) ([]Document, error) {
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		d, err := loadDocument(tx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: posting for %w", ErrCorruptIndex, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func decodeDocument(id uint64, data []byte) (Document, error) {
	var rec storedRecord
	if err := decodeGob(data, &rec); err != nil {
		return Document{}, fmt.Errorf("%w: decoding record %d: %w", ErrCorruptIndex, id, err)
	}
	return Document{ID: id, Name: rec.Name, Coords: rec.Coords}, nil
}

func forEachDocument(tx *bolt.Tx, fn func(Document) error) error {
	c := tx.Bucket(bucketRecords).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if len(k) != 8 {
			return fmt.Errorf("%w: malformed record key %x", ErrCorruptIndex, k)
		}
		d, err := decodeDocument(binary.BigEndian.Uint64(k), v)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}
