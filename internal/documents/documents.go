// Package documents manages document folders and their files. Payloads live
// in the blob store; the Store only keeps metadata.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/audit"
	"fleetops.org/internal/auth"
	"fleetops.org/internal/blob"
	"fleetops.org/internal/obs"
)

const (
	DefaultBucket = "documents"
	DownloadTTL   = 15 * time.Minute
)

// Folder groups documents. An empty VesselID makes it fleet-wide.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	VesselID  string    `json:"vessel_id,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID          string    `json:"id"`
	FolderID    string    `json:"folder_id"`
	VesselID    string    `json:"vessel_id,omitempty"`
	Name        string    `json:"name"`
	BlobKey     string    `json:"blob_key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// FolderFilter narrows ListFolders. With IncludeFleetWide, folders without
// a vessel are returned alongside VesselID's.
type FolderFilter struct {
	VesselID         string
	IncludeFleetWide bool
}

// Store persists folder and document metadata.
type Store interface {
	CreateFolder(ctx context.Context, f Folder) (Folder, error)
	GetFolder(ctx context.Context, id string) (Folder, error)
	ListFolders(ctx context.Context, filter FolderFilter) ([]Folder, error)
	CreateDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, folderID string) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) (Document, error)
	// DeleteFolderCascade removes the folder's documents then the folder in
	// one transaction and returns the blob keys that were referenced.
	DeleteFolderCascade(ctx context.Context, id string) ([]string, error)
}

// Service applies vessel scoping on top of Store and blob.Store.
type Service struct {
	store  Store
	blobs  blob.Store
	bucket string
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

func WithBucket(bucket string) Option {
	return func(s *Service) {
		if bucket != "" {
			s.bucket = bucket
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, blobs blob.Store, opts ...Option) (*Service, error) {
	if store == nil || blobs == nil {
		return nil, errors.New("documents: store and blob store are required")
	}
	s := &Service{store: store, blobs: blobs, bucket: DefaultBucket, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateFolder creates a folder. Crew can only create folders for their own vessel.
func (s *Service) CreateFolder(ctx context.Context, actor auth.Principal, name, vesselID string) (Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Folder{}, fmt.Errorf("%w: folder name is required", apperr.ErrValidation)
	}
	vesselID, err := writeScope(actor, strings.TrimSpace(vesselID))
	if err != nil {
		return Folder{}, err
	}
	f, err := s.store.CreateFolder(ctx, Folder{Name: name, VesselID: vesselID, CreatedBy: actor.UserID})
	if err != nil {
		return Folder{}, err
	}
	_ = audit.LogEvent(ctx, "folder.created", map[string]any{"folder_id": f.ID, "vessel_id": f.VesselID})
	return f, nil
}

// ListFolders returns every folder for shore staff (optionally one vessel's),
// and own-vessel plus fleet-wide folders for crew.
func (s *Service) ListFolders(ctx context.Context, actor auth.Principal, vesselID string) ([]Folder, error) {
	vesselID = strings.TrimSpace(vesselID)
	switch {
	case actor.IsShore():
		return s.store.ListFolders(ctx, FolderFilter{VesselID: vesselID})
	case actor.IsVessel() && actor.VesselID != "":
		if vesselID != "" && vesselID != actor.VesselID {
			return nil, fmt.Errorf("%w: folders of another vessel", apperr.ErrForbidden)
		}
		return s.store.ListFolders(ctx, FolderFilter{VesselID: actor.VesselID, IncludeFleetWide: true})
	}
	return nil, fmt.Errorf("%w: no vessel scope", apperr.ErrForbidden)
}

// ListDocuments returns the documents of a folder visible to actor.
func (s *Service) ListDocuments(ctx context.Context, actor auth.Principal, folderID string) ([]Document, error) {
	f, err := s.store.GetFolder(ctx, strings.TrimSpace(folderID))
	if err != nil {
		return nil, err
	}
	if !canRead(actor, f.VesselID) {
		return nil, fmt.Errorf("%w: folder belongs to another vessel", apperr.ErrForbidden)
	}
	docs, err := s.store.ListDocuments(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if canRead(actor, d.VesselID) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Upload is the input of Service.Upload.
type Upload struct {
	FolderID    string
	Filename    string
	ContentType string
	Body        io.Reader
	// VesselID overrides the folder's vessel scope when set.
	VesselID string
}

// Upload stores the payload first and records metadata afterwards. If the
// metadata write fails the blob is left for out-of-band collection and the
// caller gets a Retryable error.
func (s *Service) Upload(ctx context.Context, actor auth.Principal, in Upload) (Document, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return Document{}, fmt.Errorf("%w: file name is required", apperr.ErrValidation)
	}
	if in.Body == nil {
		return Document{}, fmt.Errorf("%w: file body is required", apperr.ErrValidation)
	}
	f, err := s.store.GetFolder(ctx, strings.TrimSpace(in.FolderID))
	if err != nil {
		return Document{}, err
	}
	vesselID := f.VesselID
	if v := strings.TrimSpace(in.VesselID); v != "" {
		vesselID = v
	}
	if !actor.IsShore() && (f.VesselID == "" || f.VesselID != actor.VesselID) {
		return Document{}, fmt.Errorf("%w: crew can only upload to their vessel's folders", apperr.ErrForbidden)
	}
	if _, err := writeScope(actor, vesselID); err != nil {
		return Document{}, err
	}

	counter := &countingReader{r: in.Body}
	key, err := s.blobs.Put(ctx, s.bucket, blob.NewKey(filename, s.now()), counter, in.ContentType)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("store blob: %w", err)
	}

	doc, err := s.store.CreateDocument(ctx, Document{
		FolderID:    f.ID,
		VesselID:    vesselID,
		Name:        filename,
		BlobKey:     key,
		ContentType: contentTypeOr(in.ContentType),
		Size:        counter.n,
		UploadedBy:  actor.UserID,
	})
	if err != nil {
		obs.Logger().Error().Err(err).
			Str("bucket", s.bucket).
			Str("blob_key", key).
			Str("folder_id", f.ID).
			Msg("document metadata write failed; blob orphaned")
		return Document{}, fmt.Errorf("%w: document metadata could not be saved, retry the upload", apperr.ErrRetryable)
	}
	_ = audit.LogEvent(ctx, "document.uploaded", map[string]any{"document_id": doc.ID, "folder_id": f.ID, "size": doc.Size})
	return doc, nil
}

// DownloadURL returns a signed URL valid for DownloadTTL.
func (s *Service) DownloadURL(ctx context.Context, actor auth.Principal, documentID string) (string, time.Time, error) {
	doc, err := s.store.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return "", time.Time{}, err
	}
	if !canRead(actor, doc.VesselID) {
		return "", time.Time{}, fmt.Errorf("%w: document belongs to another vessel", apperr.ErrForbidden)
	}
	expires := s.now().Add(DownloadTTL)
	u, err := s.blobs.SignedURL(ctx, s.bucket, doc.BlobKey, DownloadTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return u, expires, nil
}

// DeleteDocument removes metadata, then the blob. Blob failures are only logged.
func (s *Service) DeleteDocument(ctx context.Context, actor auth.Principal, documentID string) error {
	doc, err := s.store.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return err
	}
	if !actor.IsShore() && !(actor.UserID == doc.UploadedBy && actor.CanSeeVessel(doc.VesselID)) {
		return fmt.Errorf("%w: only shore staff or the uploader can delete a document", apperr.ErrForbidden)
	}
	if _, err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, s.bucket, doc.BlobKey); err != nil {
		obs.Logger().Warn().Err(err).Str("blob_key", doc.BlobKey).Msg("blob delete failed; left for collection")
	}
	_ = audit.LogEvent(ctx, "document.deleted", map[string]any{"document_id": doc.ID})
	return nil
}

// DeleteFolderCascade deletes a folder with its documents as one unit of work
// and removes their blobs afterwards in a single batch.
func (s *Service) DeleteFolderCascade(ctx context.Context, actor auth.Principal, folderID string) error {
	if !actor.IsShore() {
		return fmt.Errorf("%w: only shore staff can delete folders", apperr.ErrForbidden)
	}
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return fmt.Errorf("%w: folder id is required", apperr.ErrValidation)
	}
	keys, err := s.store.DeleteFolderCascade(ctx, folderID)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.blobs.DeleteMany(ctx, s.bucket, keys); err != nil {
			obs.Logger().Warn().Err(err).Str("folder_id", folderID).Int("blobs", len(keys)).Msg("blob batch delete failed; left for collection")
		}
	}
	_ = audit.LogEvent(ctx, "folder.deleted", map[string]any{"folder_id": folderID, "documents": len(keys)})
	return nil
}

// writeScope resolves the vessel a write targets. Crew may only write to their
// own vessel; an empty target means fleet-wide, which is shore-only.
func writeScope(actor auth.Principal, vesselID string) (string, error) {
	if actor.IsShore() {
		return vesselID, nil
	}
	if !actor.IsVessel() || actor.VesselID == "" {
		return "", fmt.Errorf("%w: no vessel scope", apperr.ErrForbidden)
	}
	if vesselID == "" {
		vesselID = actor.VesselID
	}
	if vesselID != actor.VesselID {
		return "", fmt.Errorf("%w: cannot write to another vessel", apperr.ErrForbidden)
	}
	return vesselID, nil
}

func canRead(actor auth.Principal, vesselID string) bool {
	if vesselID == "" {
		return actor.IsShore() || actor.IsVessel()
	}
	return actor.CanSeeVessel(vesselID)
}

func contentTypeOr(ct string) string {
	if ct = strings.TrimSpace(ct); ct == "" {
		return "application/octet-stream"
	}
	return ct
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
