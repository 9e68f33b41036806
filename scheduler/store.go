package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoContext is returned by SessionStore.Load when nothing was saved.
var ErrNoContext = errors.New("no saved session context")

// SessionStore persists one opaque session blob.
type SessionStore interface {
	Save(blob []byte) error
	Load() ([]byte, error)
}

// MemoryStore keeps the blob in memory.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

// Save replaces the stored blob.
func (m *MemoryStore) Save(blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), blob...)
	return nil
}

// Load returns a copy of the stored blob.
func (m *MemoryStore) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, ErrNoContext
	}
	return append([]byte(nil), m.blob...), nil
}

// FileStore keeps the blob in a file readable only by its owner.
type FileStore struct {
	Path string
}

// Save writes the blob to a temporary file and renames it over Path so a
// crash never leaves a torn context behind.
func (f FileStore) Save(blob []byte) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".trustm-ctx-*")
	if err != nil {
		return fmt.Errorf("create context file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restrict context file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write context file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close context file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace context file: %w", err)
	}
	return nil
}

// Load reads the blob from Path.
func (f FileStore) Load() ([]byte, error) {
	blob, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoContext
	}
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	return blob, nil
}
