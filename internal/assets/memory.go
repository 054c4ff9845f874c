package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"boneguide-go/internal/guide"
)

// MemoryStore is an in-memory AssetStore, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string][]byte // name -> bytes
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string][]byte)}
}

// Put stores the image and returns a memory:// reference.
func (m *MemoryStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[name] = data
	return "memory://" + name, nil
}

// Get writes the named image to w.
func (m *MemoryStore) Get(name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.images[name]
	if !ok {
		return fmt.Errorf("image not found: %s", name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// Names returns the stored image names in sorted order.
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.images))
	for name := range m.images {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryStore implements guide.AssetStore.
var _ guide.AssetStore = (*MemoryStore)(nil)
