package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// LocalStorage implements BlobStorage on the local filesystem.
// Objects are written to a temp file and renamed into place, so readers
// never observe a partial object.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, serrors.NewStorageError(serrors.CodeUploadFailed, "failed to create base directory", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// BasePath returns the storage root.
func (l *LocalStorage) BasePath() string { return l.basePath }

// Put writes data under key and returns its md5 ETag.
func (l *LocalStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := l.fullPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "put "+key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".put-*")
	if err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "put "+key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "put "+key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "put "+key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", serrors.NewStorageError(serrors.CodeUploadFailed, "put "+key, err)
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// Get reads the object stored under key.
func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, serrors.NewStorageError(serrors.CodeObjectNotFound, "object not found: "+key, err)
		}
		return nil, serrors.NewStorageError(serrors.CodeDownloadFailed, "get "+key, err)
	}
	return data, nil
}

// Delete removes an object from local storage.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// S3 Delete is idempotent, so we don't return an error
			return nil
		}
		return serrors.NewStorageError(serrors.CodeDeleteFailed, "delete "+key, err)
	}
	return nil
}

// Exists checks if an object exists in local storage.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := l.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, serrors.NewStorageError(serrors.CodeDownloadFailed, "stat "+key, err)
	}
	return !info.IsDir(), nil
}

// List returns every key that starts with prefix. Leftover temp files from
// interrupted puts are skipped.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeListFailed, "list "+prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes all objects from local storage.
// This is useful for test cleanup.
func (l *LocalStorage) Clear() error {
	if err := os.RemoveAll(l.basePath); err != nil {
		return err
	}
	return os.MkdirAll(l.basePath, 0755)
}

// fullPath returns the full filesystem path for a key.
func (l *LocalStorage) fullPath(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}
