// Package guest persists the anonymous guest identifier minted by the gateway so the
// same guest identity is reused across process restarts.
package guest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store loads and saves one guest id. Load returns "" when nothing is stored.
type Store interface {
	Load() (string, error)
	Save(id string) error
}

// Memory keeps the id in process memory.
type Memory struct {
	mu sync.Mutex
	id string
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *Memory) Save(id string) error {
	m.mu.Lock()
	m.id = strings.TrimSpace(id)
	m.mu.Unlock()
	return nil
}

// File stores the id as a small JSON document.
type File struct {
	path string
	mu   sync.Mutex
}

type fileRecord struct {
	GuestID string    `json:"guestId"`
	SavedAt time.Time `json:"savedAt"`
}

// NewFile returns a File store at path.
func NewFile(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("guest: empty path")
	}
	return &File{path: path}, nil
}

// DefaultPath is the per-user location used by the CLI.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "buykoins", "guest.json"), nil
}

func (f *File) Load() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("guest: read %s: %w", f.path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", fmt.Errorf("guest: decode %s: %w", f.path, err)
	}
	return strings.TrimSpace(rec.GuestID), nil
}

// Save writes atomically via a temp file and rename.
func (f *File) Save(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.Marshal(fileRecord{GuestID: strings.TrimSpace(id), SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("guest: mkdir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("guest: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("guest: rename: %w", err)
	}
	return nil
}
