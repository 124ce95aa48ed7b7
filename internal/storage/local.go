package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on disk. The router serves Root under the public base URL.
type LocalStore struct {
	Root    string
	BaseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local storage root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(ctx context.Context, r io.Reader, size int64, dir, filename, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectPath := ObjectName(dir, filename)
	full := filepath.Join(s.Root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		os.Remove(full)
		return "", fmt.Errorf("write object: %w", err)
	}
	return objectPath, nil
}

func (s *LocalStore) URLFor(objectPath string) string {
	return s.BaseURL + "/" + strings.TrimLeft(objectPath, "/")
}

func (s *LocalStore) Remove(ctx context.Context, objectPath string) error {
	full := filepath.Join(s.Root, filepath.FromSlash(objectPath))
	if !strings.HasPrefix(full, filepath.Clean(s.Root)+string(filepath.Separator)) {
		return fmt.Errorf("object path escapes storage root: %s", objectPath)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
