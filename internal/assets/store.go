package assets

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"
)

// Store keeps user-attached document images in a Supabase bucket. An asset is
// uploaded once when the message is sent and never held in memory afterwards.
type Store struct {
	client *supabase.Client
	bucket string
}

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("assets: supabase url and service role key required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "uploads"
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("assets: create supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Save uploads the asset and returns the object key it was stored under.
func (s *Store) Save(userID, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("assets: empty asset")
	}
	key := ObjectKey(userID, contentType, time.Now())
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("assets: upload %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey names uploads by user and timestamp so the bucket stays browsable
// without a separate index.
func ObjectKey(userID, contentType string, at time.Time) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	ext := ".bin"
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	case "application/pdf":
		ext = ".pdf"
	}
	return fmt.Sprintf("%s/%s%s", userID, at.UTC().Format("20060102T150405.000"), ext)
}
