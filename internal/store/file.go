package store

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

// FileStore persists ledger state as a single JSON document on disk.
// Saves write to a temporary file in the same directory and rename it
// over the target, so a crash mid-write never corrupts the previously
// persisted state.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path, creating parent
// directories as needed. An unusable location is the one fatal
// condition in this design, so it fails here rather than on first Save.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger data directory %q: %w", dir, err)
	}
	return &FileStore{path: path}, nil
}

// Load implements ledger.Store.
func (f *FileStore) Load(ctx context.Context) (*ledger.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Backend: "file", Op: "read", Err: err}
	}

	var state ledger.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &Error{Backend: "file", Op: "decode", Err: err}
	}
	return normalize(&state), nil
}

// Save implements ledger.Store.
func (f *FileStore) Save(ctx context.Context, state *ledger.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &Error{Backend: "file", Op: "encode", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ledger-*.json")
	if err != nil {
		return &Error{Backend: "file", Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Backend: "file", Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Backend: "file", Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Backend: "file", Op: "close", Err: err}
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return &Error{Backend: "file", Op: "rename", Err: err}
	}
	return nil
}

var _ ledger.Store = (*FileStore)(nil)
