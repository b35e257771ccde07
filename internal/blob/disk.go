package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
)

var _ Store = (*Disk)(nil)

// Disk stores blobs as files under root/bucket/key with the content type in
// a hidden sidecar file.
type Disk struct {
	root      string
	publicURL string
	signer    *Signer
	maxBytes  int64
}

// DiskOption configures Disk.
type DiskOption func(*Disk)

// WithMaxBytes caps the size of a single blob. Zero disables the cap.
func WithMaxBytes(n int64) DiskOption {
	return func(d *Disk) { d.maxBytes = n }
}

func NewDisk(root, publicURL string, signer *Signer, opts ...DiskOption) (*Disk, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if signer == nil {
		return nil, errors.New("blob signer is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	d := &Disk{root: root, publicURL: strings.TrimRight(publicURL, "/"), signer: signer}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Disk) path(bucket, key string) string {
	return filepath.Join(d.root, bucket, key)
}

func sidecar(path string) string {
	dir, name := filepath.Split(path)
	return filepath.Join(dir, "."+name+".ctype")
}

// Put writes r to bucket/key. The file appears atomically once complete.
func (d *Disk) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (string, error) {
	if err := checkNames(bucket, key); err != nil {
		return "", err
	}
	dir := filepath.Join(d.root, bucket)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create bucket dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	src := r
	if d.maxBytes > 0 {
		src = io.LimitReader(r, d.maxBytes+1)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		return "", fmt.Errorf("%w: blob exceeds %d bytes", apperr.ErrValidation, d.maxBytes)
	}
	final := d.path(bucket, key)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := os.WriteFile(sidecar(final), []byte(contentType), 0o640); err != nil {
		return "", fmt.Errorf("write blob metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return key, nil
}

// SignedURL returns publicURL/bucket/key?token=... valid for ttl.
func (d *Disk) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if err := checkNames(bucket, key); err != nil {
		return "", err
	}
	if _, err := os.Stat(d.path(bucket, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: blob %s/%s", apperr.ErrNotFound, bucket, key)
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	token, err := d.signer.Sign(bucket, key, ttl)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s?token=%s", d.publicURL, url.PathEscape(bucket), url.PathEscape(key), url.QueryEscape(token)), nil
}

// Open verifies token and opens bucket/key for reading.
func (d *Disk) Open(ctx context.Context, bucket, key, token string) (io.ReadCloser, Object, error) {
	if err := checkNames(bucket, key); err != nil {
		return nil, Object{}, err
	}
	if err := d.signer.Verify(token, bucket, key); err != nil {
		return nil, Object{}, err
	}
	path := d.path(bucket, key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Object{}, fmt.Errorf("%w: blob %s/%s", apperr.ErrNotFound, bucket, key)
		}
		return nil, Object{}, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("stat blob: %w", err)
	}
	return f, d.object(bucket, key, path, info), nil
}

// Delete removes bucket/key. Removing a missing blob is not an error.
func (d *Disk) Delete(ctx context.Context, bucket, key string) error {
	if err := checkNames(bucket, key); err != nil {
		return err
	}
	path := d.path(bucket, key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := os.Remove(sidecar(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob metadata: %w", err)
	}
	return nil
}

// DeleteMany removes every key, continuing past failures and returning them joined.
func (d *Disk) DeleteMany(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Delete(ctx, bucket, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// List returns the blobs of bucket whose key starts with prefix, sorted by key.
func (d *Disk) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if !ValidName(bucket) {
		return nil, fmt.Errorf("%w: invalid bucket %q", apperr.ErrValidation, bucket)
	}
	entries, err := os.ReadDir(filepath.Join(d.root, bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Object{}, nil
		}
		return nil, fmt.Errorf("list bucket: %w", err)
	}
	out := make([]Object, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, d.object(bucket, name, d.path(bucket, name), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (d *Disk) object(bucket, key, path string, info fs.FileInfo) Object {
	ct := "application/octet-stream"
	if b, err := os.ReadFile(sidecar(path)); err == nil && len(b) > 0 {
		ct = string(b)
	}
	return Object{Bucket: bucket, Key: key, Size: info.Size(), ContentType: ct, ModifiedAt: info.ModTime().UTC()}
}

// ctxReader stops a long copy once the request is gone.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
