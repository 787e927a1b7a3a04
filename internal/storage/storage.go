// Package storage keeps sealed snapshot blobs in an object store.
package storage

import (
	"context"
	"path"
	"strings"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
// Match it with errors.Is.
var ErrObjectNotFound = serrors.New(serrors.ErrCategoryStorage, serrors.CodeObjectNotFound, "object not found")

// BlobStorage abstracts a flat key/value object store.
// Implementations include S3 and the local filesystem.
type BlobStorage interface {
	// Put stores data under key, replacing any previous object, and returns
	// the object's ETag.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}

// CleanKey validates an object key and returns it in canonical form.
// Keys are slash separated, relative, and may not escape the store root.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", serrors.New(serrors.ErrCategoryStorage, serrors.CodeInvalidKey, "empty object key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", serrors.Newf(serrors.ErrCategoryStorage, serrors.CodeInvalidKey, "invalid object key %q", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", serrors.Newf(serrors.ErrCategoryStorage, serrors.CodeInvalidKey, "invalid object key %q", key)
	}
	return clean, nil
}
