package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStore implements Store using a JSON file for persistence. With an
// empty path it keeps turns in memory only.
type JSONStore struct {
	path   string
	turns  []Turn
	closed bool
	mu     sync.RWMutex
}

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Turns     []Turn `json:"turns"`
}

const currentVersion = 1

// NewJSONStore opens the store at path, loading existing turns.
// If the file doesn't exist, it will be created on first append.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{path: path}
	if path == "" {
		return store, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("history: load %s: %w", path, err)
		}
	}
	return store, nil
}

// NewMemoryStore returns a store that is never written to disk.
func NewMemoryStore() *JSONStore {
	return &JSONStore{}
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	s.turns = stored.Turns
	return nil
}

// save writes the store to disk. Caller holds mu.
func (s *JSONStore) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Turns:     s.turns,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	// Write to temp file first, then rename.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("history: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: rename temp file: %w", err)
	}
	return nil
}

// Append adds a turn and persists the store.
func (s *JSONStore) Append(ctx context.Context, turn *Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(turn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.turns = append(s.turns, *turn)
	if err := s.save(); err != nil {
		s.turns = s.turns[:len(s.turns)-1]
		return err
	}
	return nil
}

// Recent returns up to n of the latest turns, oldest first.
func (s *JSONStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	var out []Turn
	for i := len(s.turns) - 1; i >= 0 && len(out) < n; i-- {
		if sessionID != "" && s.turns[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.turns[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored turns.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Close marks the store closed. Turns are already on disk.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify JSONStore implements Store at compile time.
var _ Store = (*JSONStore)(nil)
