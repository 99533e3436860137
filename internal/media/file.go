package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// FileSink stores blobs under a local directory.
type FileSink struct {
	root    string
	baseURL string
}

// NewFileSink creates root if needed. baseURL is the absolute URL the root
// is served under, e.g. "https://watch.example.com/media".
func NewFileSink(root, baseURL string) (*FileSink, error) {
	if root == "" {
		return nil, fmt.Errorf("media: file root is required")
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating media root: %w", err)
	}
	return &FileSink{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root is the directory blobs are written under.
func (s *FileSink) Root() string {
	return s.root
}

// Put writes data to a temporary file, syncs it and renames it into place,
// so a reader never sees a partial blob.
func (s *FileSink) Put(ctx context.Context, p string, data []byte) error {
	rel, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), dirPermissions); err != nil {
		return fmt.Errorf("%w: creating directory: %w", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// URL joins the blob path onto the served base URL.
func (s *FileSink) URL(_ context.Context, p string) (string, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/"), nil
}
