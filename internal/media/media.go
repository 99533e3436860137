// Package media is the Media Sink: durable byte-blob storage addressed by
// a relative path, with a URL the blob's owner can follow.
//
// Two drivers exist. FileSink writes under a local root that the API
// server exposes read-only; S3Sink writes to an S3-compatible bucket and
// hands out presigned GET URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
)

// DetectionPrefix is where detect-event blobs are stored.
const DetectionPrefix = "record/detection_event"

var (
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("media: invalid path")

	// ErrWriteFailed wraps driver failures from Put.
	ErrWriteFailed = errors.New("media: write failed")
)

// Sink stores blobs.
type Sink interface {
	// Put durably stores data at the relative path p, replacing any blob
	// already there. When Put returns nil the blob is readable.
	Put(ctx context.Context, p string, data []byte) error

	// URL returns an absolute URL for the blob at p.
	URL(ctx context.Context, p string) (string, error)
}

// DetectionPath returns the storage path for a detect-event file.
// Only the base name of filename is kept.
func DetectionPath(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: filename %q", ErrInvalidPath, filename)
	}
	return DetectionPrefix + "/" + base, nil
}

// cleanPath validates a relative blob path and returns it normalised.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// New builds the sink selected by cfg.Driver. baseURL is the site origin
// used to make FileSink URLs absolute.
func New(ctx context.Context, cfg config.MediaConfig, baseURL string) (Sink, error) {
	switch cfg.Driver {
	case config.MediaDriverS3:
		return NewS3Sink(ctx, cfg.S3)
	case config.MediaDriverFile, "":
		return NewFileSink(cfg.Root, strings.TrimSuffix(baseURL, "/")+cfg.URLPrefix)
	default:
		return nil, fmt.Errorf("media: unknown driver %q", cfg.Driver)
	}
}
