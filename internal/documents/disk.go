package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"workorders/internal/apperr"
)

// DiskStore хранит файлы в каталоге. Для разработки и STORAGE_DRIVER=memory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, basePath), 0o750); err != nil {
		return nil, fmt.Errorf("documents: create %s: %w", dir, err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) Store(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("documents: empty file")
	}
	id := newID(filename)
	if err := os.WriteFile(filepath.Join(d.dir, id), data, 0o640); err != nil {
		return "", fmt.Errorf("documents: write %s: %w", id, err)
	}
	return id, nil
}

func (d *DiskStore) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	data, err := os.ReadFile(filepath.Join(d.dir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	return data, err
}

func (d *DiskStore) Remove(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	err := os.Remove(filepath.Join(d.dir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
