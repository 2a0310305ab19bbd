// Package staging persists the entry staged by the CLI between
// invocations. Each subcommand runs as its own process, so the staged
// extraction cannot live in memory the way it does inside the API
// server; it is kept in a small sidecar file next to the ledger data
// instead. The ledger document itself never contains the staged entry.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// File stores one staged extraction as a JSON document on disk. Saves
// go through a temporary file and a rename, so a crash mid-write never
// corrupts a previously staged entry.
type File struct {
	path string
}

// NewFile creates a staging file at path, creating parent directories
// as needed.
func NewFile(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory %q: %w", dir, err)
	}
	return &File{path: path}, nil
}

// Load returns the staged extraction, or (nil, nil) when nothing is
// staged.
func (f *File) Load(ctx context.Context) (*ledger.PendingExtraction, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading staged entry: %w", err)
	}

	var pending ledger.PendingExtraction
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("decoding staged entry: %w", err)
	}
	return &pending, nil
}

// Save writes the staged extraction, replacing any previous one.
func (f *File) Save(ctx context.Context, pending *ledger.PendingExtraction) error {
	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding staged entry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".staged-*.json")
	if err != nil {
		return fmt.Errorf("creating staging temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing staged entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing staging temp file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing staged entry: %w", err)
	}
	return nil
}

// Clear removes the staged entry. Clearing when nothing is staged is
// not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing staged entry: %w", err)
	}
	return nil
}
