// Package vector provides an in-memory flat vector index with brute-force
// inner-product search and binary snapshot persistence.
package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrCorrupt is returned when a persisted snapshot cannot be decoded.
// Callers fall back to rebuilding the index from source data.
var ErrCorrupt = errors.New("vector: corrupt snapshot")

// Result is a single search hit.
type Result struct {
	Key   string
	Score float64 // inner product; cosine similarity in [-1, 1] for normalized vectors
}

// Index is a flat in-memory index over unit-normalized vectors. Entries are
// append-only; search is an exhaustive scan. Safe for concurrent use.
type Index struct {
	dims    int
	keys    []string
	vectors [][]float32
	mu      sync.RWMutex
}

// NewIndex creates an index for vectors of the given dimension.
func NewIndex(dims int) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Index{dims: dims}, nil
}

// Dimensions returns the vector dimension of the index.
func (x *Index) Dimensions() int {
	return x.dims
}

// Insert appends one vector under the given key. The vector is copied.
func (x *Index) Insert(key string, vec []float32) error {
	if len(vec) != x.dims {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), x.dims)
	}
	v := make([]float32, x.dims)
	copy(v, vec)
	x.mu.Lock()
	x.keys = append(x.keys, key)
	x.vectors = append(x.vectors, v)
	x.mu.Unlock()
	return nil
}

// InsertBatch appends vectors under the given keys.
func (x *Index) InsertBatch(keys []string, vecs [][]float32) error {
	if len(keys) != len(vecs) {
		return fmt.Errorf("keys and vectors length mismatch")
	}
	for i := range keys {
		if err := x.Insert(keys[i], vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the top-k entries by inner product, descending. Ties keep
// insertion order (earlier entry wins). k is clamped to the entry count;
// searching an empty index returns an empty result.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != x.dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dims)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.keys) == 0 {
		return nil, nil
	}
	scores := make([]Result, len(x.keys))
	for i, vec := range x.vectors {
		scores[i] = Result{Key: x.keys[i], Score: InnerProduct(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Reset clears all entries.
func (x *Index) Reset() {
	x.mu.Lock()
	x.keys = nil
	x.vectors = nil
	x.mu.Unlock()
}

// Size returns the number of stored vectors.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

// Keys returns a copy of all keys in insertion order.
func (x *Index) Keys() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, len(x.keys))
	copy(out, x.keys)
	return out
}

// Entries returns copies of all keys and vectors in insertion order.
// Used to rebuild an index excluding individual entries, since the index
// itself has no in-place delete.
func (x *Index) Entries() ([]string, [][]float32) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	keys := make([]string, len(x.keys))
	copy(keys, x.keys)
	vecs := make([][]float32, len(x.vectors))
	for i, v := range x.vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		vecs[i] = cp
	}
	return keys, vecs
}

// Snapshot serializes the full vector set. Format: dimensions (uint32),
// count (uint32), then per entry keyLen (uint32), key bytes, vector
// (dimensions*4 bytes), all little-endian.
func (x *Index) Snapshot() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(x.dims)); err != nil {
		return nil, fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(x.keys))); err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}
	for i, key := range x.keys {
		kb := []byte(key)
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(kb))); err != nil {
			return nil, fmt.Errorf("write key len: %w", err)
		}
		buf.Write(kb)
		buf.Write(float32SliceToBytes(x.vectors[i]))
	}
	return buf.Bytes(), nil
}

// Restore replaces the index contents from a snapshot. Any decode failure,
// including a dimension mismatch, returns ErrCorrupt and leaves the index
// unchanged.
func (x *Index) Restore(data []byte) error {
	r := bytes.NewReader(data)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("%w: read dimensions: %v", ErrCorrupt, err)
	}
	if int(dim) != x.dims {
		return fmt.Errorf("%w: dimension mismatch: snapshot has %d, index expects %d", ErrCorrupt, dim, x.dims)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: read count: %v", ErrCorrupt, err)
	}
	keys := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	vbuf := make([]byte, x.dims*4)
	for i := uint32(0); i < n; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return fmt.Errorf("%w: read key len: %v", ErrCorrupt, err)
		}
		if int(keyLen) > r.Len() {
			return fmt.Errorf("%w: key length %d exceeds remaining data", ErrCorrupt, keyLen)
		}
		kb := make([]byte, keyLen)
		if _, err := io.ReadFull(r, kb); err != nil {
			return fmt.Errorf("%w: read key: %v", ErrCorrupt, err)
		}
		if _, err := io.ReadFull(r, vbuf); err != nil {
			return fmt.Errorf("%w: read vector: %v", ErrCorrupt, err)
		}
		keys = append(keys, string(kb))
		vectors = append(vectors, bytesToFloat32Slice(vbuf))
	}
	x.mu.Lock()
	x.keys = keys
	x.vectors = vectors
	x.mu.Unlock()
	return nil
}

// Save writes a snapshot to path via a temp file and rename. Parent
// directories are created if needed.
func (x *Index) Save(path string) error {
	if path == "" {
		return nil
	}
	data, err := x.Snapshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load restores the index from the snapshot at path. A missing file is
// reported via the underlying fs error so callers can rebuild instead.
func (x *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	return x.Restore(data)
}
