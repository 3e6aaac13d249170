package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// When created with a path, it loads that snapshot on open and rewrites it after every change,
// so a vector acknowledged by Upsert survives a crash.
type MemoryIndex struct {
	dimensions int
	path       string
	spaces     map[string]map[string][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory index. dimensions <= 0 accepts any vector length
// as long as it is consistent within a namespace. path may be empty.
func NewMemoryIndex(dimensions int, path string) (*MemoryIndex, error) {
	m := &MemoryIndex{
		dimensions: dimensions,
		path:       path,
		spaces:     make(map[string]map[string][]float32),
	}
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert stores copies of the record vectors.
func (m *MemoryIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if len(r.Values) == 0 {
			return fmt.Errorf("vector for %s is empty", r.ID)
		}
		if m.dimensions > 0 && len(r.Values) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Values), m.dimensions)
		}
		space, ok := m.spaces[r.Namespace]
		if !ok {
			space = make(map[string][]float32)
			m.spaces[r.Namespace] = space
		}
		vec := make([]float32, len(r.Values))
		copy(vec, r.Values)
		space[r.ID] = vec
	}
	return m.writeSnapshot(m.path)
}

// Query returns the topK most similar vectors in namespace.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topKCount int, namespace string) ([]*Match, error) {
	if m.dimensions > 0 && len(vector) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	space := m.spaces[namespace]
	if topKCount <= 0 || len(space) == 0 {
		return []*Match{}, nil
	}
	matches := make([]*Match, 0, len(space))
	for id, vec := range space {
		if len(vec) != len(vector) {
			continue
		}
		matches = append(matches, &Match{ID: id, Score: CosineSimilarity(vector, vec)})
	}
	return topK(matches, topKCount), nil
}

// DeleteByIDs removes ids from namespace.
func (m *MemoryIndex) DeleteByIDs(ctx context.Context, ids []string, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	space := m.spaces[namespace]
	removed := 0
	for _, id := range ids {
		if _, ok := space[id]; ok {
			delete(space, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return m.writeSnapshot(m.path)
}

// Count returns the number of vectors across namespaces.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, space := range m.spaces {
		n += len(space)
	}
	return n, nil
}

// Close writes the snapshot when the index has a path.
func (m *MemoryIndex) Close() error {
	return m.Save(m.path)
}

// Save persists the index to path. Directory is created if needed. Format: dimension (4), n (4),
// then per vector: namespace length (4), namespace, id length (4), id, vector length (4), vector.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeSnapshot(path)
}

// writeSnapshot replaces the file at path through a rename, so readers never see a partial
// snapshot. The caller holds m.mu.
func (m *MemoryIndex) writeSnapshot(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp)
	if err := m.encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) encode(out io.Writer) error {
	w := bufio.NewWriter(out)

	n := 0
	for _, space := range m.spaces {
		n += len(space)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(n)); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	namespaces := make([]string, 0, len(m.spaces))
	for ns := range m.spaces {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		for id, vec := range m.spaces[ns] {
			if err := writeString(w, ns); err != nil {
				return fmt.Errorf("write namespace: %w", err)
			}
			if err := writeString(w, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(vec))); err != nil {
				return fmt.Errorf("write vector len: %w", err)
			}
			if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	return w.Flush()
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if m.dimensions > 0 && int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	spaces := make(map[string]map[string][]float32)
	for i := uint32(0); i < n; i++ {
		ns, err := readString(r)
		if err != nil {
			return fmt.Errorf("read namespace: %w", err)
		}
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		var vecLen uint32
		if err := binary.Read(r, binary.LittleEndian, &vecLen); err != nil {
			return fmt.Errorf("read vector len: %w", err)
		}
		buf := make([]byte, vecLen*4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		if spaces[ns] == nil {
			spaces[ns] = make(map[string][]float32)
		}
		spaces[ns][id] = bytesToFloat32Slice(buf)
	}

	m.mu.Lock()
	m.spaces = spaces
	m.mu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
