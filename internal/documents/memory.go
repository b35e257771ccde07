package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

type InMemory struct {
	mu      sync.RWMutex
	folders map[string]Folder
	docs    map[string]Document
}

func NewInMemory() *InMemory {
	return &InMemory{folders: make(map[string]Folder), docs: make(map[string]Document)}
}

func (s *InMemory) CreateFolder(ctx context.Context, f Folder) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = ids.New()
	f.CreatedAt = time.Now().UTC()
	s.folders[f.ID] = f
	return f, nil
}

func (s *InMemory) GetFolder(ctx context.Context, id string) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return Folder{}, fmt.Errorf("%w: folder %s", apperr.ErrNotFound, id)
	}
	return f, nil
}

func (s *InMemory) ListFolders(ctx context.Context, filter FolderFilter) ([]Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Folder{}
	for _, f := range s.folders {
		switch {
		case filter.VesselID == "":
		case f.VesselID == filter.VesselID:
		case filter.IncludeFleetWide && f.VesselID == "":
		default:
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) CreateDocument(ctx context.Context, d Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[d.FolderID]; !ok {
		return Document{}, fmt.Errorf("%w: folder %s", apperr.ErrNotFound, d.FolderID)
	}
	d.ID = ids.New()
	d.CreatedAt = time.Now().UTC()
	s.docs[d.ID] = d
	return d, nil
}

func (s *InMemory) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	return d, nil
}

func (s *InMemory) ListDocuments(ctx context.Context, folderID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Document{}
	for _, d := range s.docs {
		if d.FolderID == folderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) DeleteDocument(ctx context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	delete(s.docs, id)
	return d, nil
}

func (s *InMemory) DeleteFolderCascade(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[id]; !ok {
		return nil, fmt.Errorf("%w: folder %s", apperr.ErrNotFound, id)
	}
	var keys []string
	for docID, d := range s.docs {
		if d.FolderID == id {
			keys = append(keys, d.BlobKey)
			delete(s.docs, docID)
		}
	}
	delete(s.folders, id)
	sort.Strings(keys)
	return keys, nil
}
