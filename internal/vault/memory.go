package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"scribe-go/internal/scribe"
)

// MemoryVault keeps payload blobs and metadata in memory. It is used by
// tests and by the "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name            string
	content         map[string][]byte // checksum -> blob
	metadata        map[string][]byte // "hostID/name" -> item
	metadataVersion map[string]int64  // "hostID/name" -> version
	mu              sync.RWMutex
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:            name,
		content:         make(map[string][]byte),
		metadata:        make(map[string][]byte),
		metadataVersion: make(map[string]int64),
	}
}

func metadataKey(hostID, name string) string {
	return hostID + "/" + name
}

func readSized(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

func (m *MemoryVault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[checksum] = data
	return nil
}

func (m *MemoryVault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("content %s: %w", checksum, scribe.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryVault) DeleteContent(ctx context.Context, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, checksum)
	return nil
}

// HasContent reports whether a blob is stored.
func (m *MemoryVault) HasContent(checksum string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok
}

// ContentCount returns the number of stored blobs.
func (m *MemoryVault) ContentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) PutMetadata(ctx context.Context, hostID string, name string, r io.Reader, size int64, version int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := metadataKey(hostID, name)
	m.metadata[key] = data
	m.metadataVersion[key] = version
	return nil
}

func (m *MemoryVault) GetMetadataVersion(ctx context.Context, hostID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadataVersion[metadataKey(hostID, name)], nil
}

func (m *MemoryVault) GetMetadata(ctx context.Context, hostID string, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.metadata[metadataKey(hostID, name)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("metadata %q for host %s: %w", name, hostID, scribe.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for an in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ scribe.Vault = (*MemoryVault)(nil)
