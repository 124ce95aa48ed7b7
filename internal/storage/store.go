// Package storage puts uploaded images and export archives somewhere reachable by URL
// and fetches them back for packaging.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pixlabel/backend/internal/config"
)

// ObjectStore writes objects and resolves their public URLs.
type ObjectStore interface {
	// Put stores r under dir and returns the object path. filename only contributes its extension.
	Put(ctx context.Context, r io.Reader, size int64, dir, filename, contentType string) (string, error)
	// URLFor returns the public URL of an object path returned by Put.
	URLFor(objectPath string) string
	// Remove deletes an object. Missing objects are not an error.
	Remove(ctx context.Context, objectPath string) error
}

// Fetcher downloads the bytes behind a public URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// New builds the object store selected by cfg.Driver.
func New(cfg *config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.LocalRoot, cfg.PublicBaseURL)
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

var nowFunc = time.Now

// ObjectName builds "<dir>/<yyyy>/<MM>/<dd>/<random-hex><ext>".
func ObjectName(dir, filename string) string {
	id := uuid.New()
	name := hex.EncodeToString(id[:]) + strings.ToLower(path.Ext(filename))
	return path.Join(strings.Trim(dir, "/"), nowFunc().Format("2006/01/02"), name)
}
