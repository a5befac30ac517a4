package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// MaxImageBytes is the largest accepted product image
const MaxImageBytes int64 = 5 << 20

var (
	ErrTooLarge   = errors.New("image exceeds upload limit")
	ErrNotImage   = errors.New("images only (jpeg, png, gif)")
	ErrInvalidRef = errors.New("invalid upload reference")
)

var allowedTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
}

// Store persists product images. Refs returned by Save always contain
// analysis.UploadMarker so the engine recognizes them as uploads.
type Store interface {
	Save(ctx context.Context, fileName string, r io.Reader) (ref string, size int64, mimeType string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes a stored image; a missing image is not an error
	Delete(ctx context.Context, ref string) error
	HealthCheck(ctx context.Context) error
}

// image is a validated upload ready to be written
type image struct {
	name     string
	mimeType string
	data     []byte
}

// prepare reads at most limit bytes and checks both the extension and the
// sniffed content type
func prepare(fileName string, r io.Reader, limit int64) (*image, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	allowed, ok := allowedTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrNotImage, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, limit)
	}

	detected := mimetype.Detect(data)
	matched := false
	for _, m := range allowed {
		if detected.Is(m) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: content is %s", ErrNotImage, detected.String())
	}

	return &image{
		name:     uuid.New().String() + ext,
		mimeType: detected.String(),
		data:     data,
	}, nil
}

// Ref builds the public reference of a stored file name
func Ref(name string) string {
	return path.Join(analysis.UploadMarker, name)
}

// NameFromRef extracts the stored file name from a ref or an absolute path
// containing the upload marker
func NameFromRef(ref string) (string, error) {
	i := strings.LastIndex(ref, analysis.UploadMarker)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	name := ref[i+len(analysis.UploadMarker):]
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return name, nil
}

// Loader reads stored images for the image classifier
type Loader struct {
	store Store
	limit int64
}

// NewLoader creates a Loader that refuses images above limit
// (MaxImageBytes when limit is not positive)
func NewLoader(store Store, limit int64) *Loader {
	if limit <= 0 {
		limit = MaxImageBytes
	}
	return &Loader{store: store, limit: limit}
}

// Load implements analysis.ImageLoader
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	rc, err := l.store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, l.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", ref, err)
	}
	if n > l.limit {
		return nil, fmt.Errorf("%s: %w", ref, ErrTooLarge)
	}
	return buf.Bytes(), nil
}

var _ analysis.ImageLoader = (*Loader)(nil)
