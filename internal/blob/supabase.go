package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storage "github.com/supabase-community/storage-go"
)

// SupabaseStorage uploads into a public Supabase Storage bucket.
type SupabaseStorage struct {
	client *storage.Client
	bucket string
}

// NewSupabaseStorage creates a storage client for the project at baseURL.
func NewSupabaseStorage(baseURL, bucket, key string) *SupabaseStorage {
	client := storage.NewClient(strings.TrimRight(baseURL, "/")+"/storage/v1", key,
		map[string]string{"apikey": key})
	return &SupabaseStorage{client: client, bucket: bucket}
}

// Put uploads data and returns the object's public URL. Existing objects are
// never overwritten.
func (s *SupabaseStorage) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	upsert := false
	_, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return s.PublicURL(name), nil
}

// PublicURL is the retrieval URL of an object in the bucket.
func (s *SupabaseStorage) PublicURL(name string) string {
	return s.client.GetPublicUrl(s.bucket, name).SignedURL
}
