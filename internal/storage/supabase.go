package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore uploads objects into a public Supabase Storage bucket.
type SupabaseStore struct {
	client  *storage_go.Client
	bucket  string
	baseURL string
}

func NewSupabaseStore(supabaseURL, serviceKey, bucket string) (*SupabaseStore, error) {
	if supabaseURL == "" || serviceKey == "" {
		return nil, errors.New("supabase url and key are required")
	}
	if bucket == "" {
		return nil, errors.New("supabase bucket is required")
	}
	baseURL := strings.TrimRight(supabaseURL, "/")
	return &SupabaseStore{
		client:  storage_go.NewClient(baseURL+"/storage/v1", serviceKey, nil),
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

func (s *SupabaseStore) Put(ctx context.Context, r io.Reader, size int64, dir, filename, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectPath := ObjectName(dir, filename)
	upsert := false
	_, err := s.client.UploadFile(s.bucket, objectPath, r, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	return objectPath, nil
}

func (s *SupabaseStore) URLFor(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, strings.TrimLeft(objectPath, "/"))
}

func (s *SupabaseStore) Remove(ctx context.Context, objectPath string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{objectPath})
	return err
}
