package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JSONStorage persists the record set to a single JSON file, rewriting it
// atomically on every change.
type JSONStorage struct {
	*MemoryStorage
	filepath string
}

// NewJSONStorage opens the store at path, loading it if the file exists.
func NewJSONStorage(path string, opts ...Option) (*JSONStorage, error) {
	if path == "" {
		return nil, errors.New("json storage requires a file path")
	}

	data := &storageData{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("loading storage %s: %w", path, err)
		}
		for _, t := range data.Trades {
			if err := t.ValidateState(); err != nil {
				return nil, fmt.Errorf("loading storage %s: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading storage %s: %w", path, err)
	}

	s := &JSONStorage{filepath: path}
	s.MemoryStorage = newMemoryStorage(data, applyOptions(opts), s.save)
	return s, nil
}

// save writes data to a temp file and renames it over the store file.
func (s *JSONStorage) save(data *storageData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding storage: %w", err)
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating storage directory: %w", err)
		}
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return fmt.Errorf("writing storage: %w", err)
	}
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("replacing storage file: %w", err)
	}
	return nil
}

// Path returns the store file location
func (s *JSONStorage) Path() string {
	return s.filepath
}
