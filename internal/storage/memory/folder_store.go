// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sync"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

type folderKey struct {
	projectID    string
	parentID     string
	kind         scraper.FolderKind
	name         string
	platformCode string
	serviceCode  string
}

func keyOf(k scraper.FolderKey) folderKey {
	parent := ""
	if k.ParentID != nil {
		parent = *k.ParentID
	}
	return folderKey{
		projectID:    k.ProjectID,
		parentID:     parent,
		kind:         k.Kind,
		name:         k.Name,
		platformCode: k.PlatformCode,
		serviceCode:  k.ServiceCode,
	}
}

// FolderStore keeps the folder tree in process memory. The key index mirrors
// the relational uniqueness constraint, so create races surface as
// ErrFolderExists exactly like the Postgres implementation.
type FolderStore struct {
	mu      sync.RWMutex
	folders map[string]scraper.Folder
	byKey   map[folderKey]string
}

// NewFolderStore constructs a FolderStore.
func NewFolderStore() *FolderStore {
	return &FolderStore{
		folders: make(map[string]scraper.Folder),
		byKey:   make(map[folderKey]string),
	}
}

// GetFolder fetches a folder by id.
func (s *FolderStore) GetFolder(_ context.Context, id string) (scraper.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.folders[id]
	if !ok {
		return scraper.Folder{}, scraper.ErrFolderNotFound
	}
	return folder, nil
}

// FindChild looks a folder up by its uniqueness key.
func (s *FolderStore) FindChild(_ context.Context, key scraper.FolderKey) (scraper.Folder, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[keyOf(key)]
	if !ok {
		return scraper.Folder{}, false, nil
	}
	return s.folders[id], true, nil
}

// CreateFolder inserts a folder, enforcing the uniqueness key.
func (s *FolderStore) CreateFolder(_ context.Context, folder scraper.Folder) (scraper.Folder, error) {
	key := keyOf(scraper.FolderKey{
		ProjectID:    folder.ProjectID,
		ParentID:     folder.ParentID,
		Kind:         folder.Kind,
		Name:         folder.Name,
		PlatformCode: folder.PlatformCode,
		ServiceCode:  folder.ServiceCode,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[key]; exists {
		return scraper.Folder{}, scraper.ErrFolderExists
	}
	s.folders[folder.ID] = folder
	s.byKey[key] = folder.ID
	return folder, nil
}

// nextScrapeNumber advances the job folder's allocation counter. Callers
// hold no other lock, so the folder mutex serializes concurrent dispatches.
func (s *FolderStore) nextScrapeNumber(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[id]
	if !ok {
		return 0, scraper.ErrFolderNotFound
	}
	folder.LastScrapeNumber++
	s.folders[id] = folder
	return folder.LastScrapeNumber, nil
}
