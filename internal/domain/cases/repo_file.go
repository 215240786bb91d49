package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type fileStore struct{}

// NewFileStore returns a Store backed by JSON files on the local disk.
// Files are written with two-space indentation and without HTML escaping,
// through a temporary file that is renamed into place. There is no locking:
// concurrent saves to the same path are last-write-wins.
func NewFileStore() Store {
	return &fileStore{}
}

func (s *fileStore) Load(ctx context.Context, path string) (*Collection, error) {
	data, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	col, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return col, nil
}

func (s *fileStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *fileStore) Save(ctx context.Context, path string, col *Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(col)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".working-*.json")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func (s *fileStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Encode renders a collection the way workspace files are stored.
func Encode(col *Collection) ([]byte, error) {
	raw, err := col.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
