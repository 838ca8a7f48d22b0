package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"codesage/internal/models"
)

// FileBackend keeps the session mapping in a single JSON document.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Load(ctx context.Context) (models.Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(models.Document), nil
		}
		return make(models.Document), fmt.Errorf("read %s: %w", f.path, err)
	}
	return decodeDocument(data)
}

// Save writes the document to a temporary file next to the target and
// renames it into place.
func (f *FileBackend) Save(ctx context.Context, doc models.Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
