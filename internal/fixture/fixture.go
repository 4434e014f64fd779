// Package fixture reads and writes the JSON file of seed users.
package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNotFound = errors.New("JSON file not found")
	ErrNotArray = errors.New("invalid data format, expected an array of users")
	ErrCorrupt  = errors.New("JSON file is not valid JSON")
)

// File is the fixture file at a fixed path.
type File struct {
	mu   sync.Mutex
	path string
}

// New returns a File for path. Nothing is read until Load.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load returns the file content.
func (f *File) Load() (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if !json.Valid(raw) {
		return nil, ErrCorrupt
	}
	return json.RawMessage(raw), nil
}

// Save replaces the file with raw, indented by two spaces. Only a JSON array
// is accepted. The write goes through a temporary file so readers never see
// a partial document.
func (f *File) Save(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' || !json.Valid(trimmed) {
		return ErrNotArray
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return fmt.Errorf("format fixture: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".fixture-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write fixture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fixture: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
