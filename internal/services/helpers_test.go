package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pixlabel/backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func createUser(t *testing.T, db *gorm.DB, username, role string) Caller {
	t.Helper()
	u := models.User{Username: username, Password: "x", Role: role, IsActive: true}
	require.NoError(t, db.Create(&u).Error)
	return Caller{UserID: u.ID, Role: u.Role}
}

func createImage(t *testing.T, db *gorm.DB, owner Caller, name string) *models.Image {
	t.Helper()
	img := models.Image{
		UserID: owner.UserID,
		Name:   name,
		MD5:    fmt.Sprintf("%032x", len(name)),
		Path:   "images/" + name,
		URL:    "http://files.test/images/" + name,
	}
	require.NoError(t, db.Create(&img).Error)
	return &img
}

// memoryStore is an ObjectStore that keeps objects in a map.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failPut error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) Put(ctx context.Context, r io.Reader, size int64, dir, filename, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return "", s.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.puts++
	p := fmt.Sprintf("%s/%d_%s", dir, s.puts, filename)
	s.objects[p] = data
	return p, nil
}

func (s *memoryStore) URLFor(objectPath string) string {
	return "http://files.test/" + objectPath
}

func (s *memoryStore) Remove(ctx context.Context, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectPath)
	return nil
}

func (s *memoryStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *memoryStore) object(prefix string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, data := range s.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			return data
		}
	}
	return nil
}

// fakeFetcher serves URL -> bytes. Unknown URLs fail.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	calls int
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	data, ok := f.files[url]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("404 for %s", url)
	}
	return data, nil
}

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: shade, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
