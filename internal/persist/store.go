// Package persist saves and loads the mixer's two persistence documents:
// channel/app configuration and routing rules. Writes are atomic (temp
// file plus rename within the same directory) so a crash mid-write never
// leaves a truncated document on disk.
package persist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const CurrentVersion = 1

// Document is any versioned persistence payload.
type Document interface {
	GetVersion() int
}

// Store reads and writes a single document to a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes doc as YAML to the store's path.
func (s *Store) Save(doc any) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	enc := yaml.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}

// Load reads the document at the store's path into dst.
func (s *Store) Load(dst any) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("persist: open: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f, dst)
}

func LoadFromReader(r io.Reader, dst any) error {
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("persist: decode: %w", err)
	}
	return nil
}

// Exists reports whether the store's backing file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
