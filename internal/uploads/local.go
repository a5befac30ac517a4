package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores images under <baseDir>/uploads
type Local struct {
	dir   string
	limit int64
}

// NewLocal creates the upload directory if needed
func NewLocal(baseDir string) (*Local, error) {
	dir := filepath.Join(baseDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &Local{dir: dir, limit: MaxImageBytes}, nil
}

// SetLimit changes the maximum accepted image size
func (s *Local) SetLimit(limit int64) {
	if limit > 0 {
		s.limit = limit
	}
}

// Dir returns the directory files are written to
func (s *Local) Dir() string {
	return s.dir
}

// Save validates and writes an image under a random name
func (s *Local) Save(ctx context.Context, fileName string, r io.Reader) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}

	img, err := prepare(fileName, r, s.limit)
	if err != nil {
		return "", 0, "", err
	}

	fullPath := filepath.Join(s.dir, img.name)
	if err := os.WriteFile(fullPath, img.data, 0o644); err != nil {
		return "", 0, "", fmt.Errorf("write file: %w", err)
	}

	return Ref(img.name), int64(len(img.data)), img.mimeType, nil
}

// Open opens a stored image by ref
func (s *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := NameFromRef(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, name))
}

// Delete removes a stored image by ref
func (s *Local) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := NameFromRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// HealthCheck verifies the upload directory is still present
func (s *Local) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

var _ Store = (*Local)(nil)
