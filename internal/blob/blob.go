// Package blob stores document payloads outside the database and hands out
// short-lived signed download URLs.
package blob

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetops.org/internal/apperr"
)

// Store is the blob storage contract used by the documents service.
type Store interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (string, error)
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, bucket, key string) error
	DeleteMany(ctx context.Context, bucket string, keys []string) error
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// Object describes a stored blob.
type Object struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModifiedAt  time.Time `json:"modified_at"`
}

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	unsafeRun   = regexp.MustCompile(`[^a-z0-9_-]+`)
)

const maxBaseLen = 64

// NewKey builds a collision-resistant key {base}_{unixMillis}_{random8}.{ext}
// from an uploaded file name.
func NewKey(filename string, now time.Time) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	ext = unsafeRun.ReplaceAllString(ext, "")
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	base = strings.Trim(unsafeRun.ReplaceAllString(base, "-"), "-_")
	if len(base) > maxBaseLen {
		base = strings.Trim(base[:maxBaseLen], "-_")
	}
	if base == "" {
		base = "file"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	key := fmt.Sprintf("%s_%d_%s", base, now.UnixMilli(), random)
	if ext != "" {
		key += "." + ext
	}
	return key
}

// ValidName reports whether s is usable as a bucket or key.
func ValidName(s string) bool {
	return len(s) <= 255 && namePattern.MatchString(s) && !strings.Contains(s, "..")
}

func checkNames(bucket, key string) error {
	if !ValidName(bucket) {
		return fmt.Errorf("%w: invalid bucket %q", apperr.ErrValidation, bucket)
	}
	if !ValidName(key) {
		return fmt.Errorf("%w: invalid key %q", apperr.ErrValidation, key)
	}
	return nil
}
