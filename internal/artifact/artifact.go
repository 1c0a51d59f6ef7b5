// Package artifact persists UI-facing JSON files using atomic replacement.
//
// Every write goes to a .tmp sibling first and is renamed over the target, so
// a reader never observes a torn file and a crash mid-write leaves the last
// complete artifact in place.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer serializes values as JSON under a root directory. All operations are
// mutex-protected to prevent concurrent file corruption.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the artifact root.
func (w *Writer) Dir() string { return w.dir }

// WriteJSON atomically replaces the artifact at rel (a path relative to the
// root, subdirectories created as needed) with the JSON encoding of v.
func (w *Writer) WriteJSON(rel string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", rel, err)
	}

	path := filepath.Join(w.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact subdir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", rel, err)
	}
	return os.Rename(tmp, path)
}

// ReadJSON loads the artifact at rel into v. Returns os.ErrNotExist when the
// artifact has not been written yet.
func (w *Writer) ReadJSON(rel string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(w.dir, rel))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal artifact %s: %w", rel, err)
	}
	return nil
}
