// Package folders owns the run/platform/service/job tree. All tree walking
// happens here; other components treat folder ids as opaque handles.
package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// JobKey addresses one job folder: the leaf of a
// run -> platform -> service -> job chain within a project.
type JobKey struct {
	ProjectID string
	RunName   string
	Platform  scraper.Platform
	Service   string
	// NewJob forces a fresh job folder instead of reusing the existing one,
	// for callers that want a clean re-scrape bucket.
	NewJob bool
}

// Resolver lazily creates and resolves folder chains.
type Resolver struct {
	store  scraper.FolderStore
	idGen  scraper.IDGenerator
	clock  scraper.Clock
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store scraper.FolderStore, idGen scraper.IDGenerator, clock scraper.Clock, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// GetFolder fetches a folder by id.
func (r *Resolver) GetFolder(ctx context.Context, id string) (scraper.Folder, error) {
	return r.store.GetFolder(ctx, id)
}

// ResolveOrCreateJobFolder walks the ancestor chain top-down, creating any
// missing level, and returns the job folder that owns requests and posts.
func (r *Resolver) ResolveOrCreateJobFolder(ctx context.Context, key JobKey) (scraper.Folder, error) {
	if key.ProjectID == "" || key.RunName == "" || key.Platform == "" || key.Service == "" {
		return scraper.Folder{}, fmt.Errorf("job key requires project, run, platform and service")
	}

	run, err := r.getOrCreate(ctx, scraper.FolderKey{
		ProjectID: key.ProjectID,
		Kind:      scraper.FolderKindRun,
		Name:      key.RunName,
	})
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("resolve run folder: %w", err)
	}

	platform, err := r.getOrCreate(ctx, scraper.FolderKey{
		ProjectID:    key.ProjectID,
		ParentID:     &run.ID,
		Kind:         scraper.FolderKindPlatform,
		Name:         titleCase(string(key.Platform)),
		PlatformCode: string(key.Platform),
	})
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("resolve platform folder: %w", err)
	}

	service, err := r.getOrCreate(ctx, scraper.FolderKey{
		ProjectID:    key.ProjectID,
		ParentID:     &platform.ID,
		Kind:         scraper.FolderKindService,
		Name:         titleCase(key.Service),
		PlatformCode: string(key.Platform),
		ServiceCode:  key.Service,
	})
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("resolve service folder: %w", err)
	}

	jobKey := scraper.FolderKey{
		ProjectID:    key.ProjectID,
		ParentID:     &service.ID,
		Kind:         scraper.FolderKindJob,
		Name:         fmt.Sprintf("%s - %s", key.RunName, titleCase(key.Service)),
		PlatformCode: string(key.Platform),
		ServiceCode:  key.Service,
	}
	if key.NewJob {
		id, err := r.idGen.NewID()
		if err != nil {
			return scraper.Folder{}, fmt.Errorf("generate job folder suffix: %w", err)
		}
		jobKey.Name = fmt.Sprintf("%s (%s)", jobKey.Name, id[:8])
	}
	job, err := r.getOrCreate(ctx, jobKey)
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("resolve job folder: %w", err)
	}
	return job, nil
}

// getOrCreate implements get-or-create semantics backed by the store's
// uniqueness constraint: a create that loses the race re-reads the winner.
func (r *Resolver) getOrCreate(ctx context.Context, key scraper.FolderKey) (scraper.Folder, error) {
	folder, found, err := r.store.FindChild(ctx, key)
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("find folder: %w", err)
	}
	if found {
		return folder, nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("generate folder id: %w", err)
	}
	created, err := r.store.CreateFolder(ctx, scraper.Folder{
		ID:           id,
		Kind:         key.Kind,
		Name:         key.Name,
		ParentID:     key.ParentID,
		ProjectID:    key.ProjectID,
		PlatformCode: key.PlatformCode,
		ServiceCode:  key.ServiceCode,
		CreatedAt:    r.clock.Now(),
	})
	if err == nil {
		r.logger.Debug("folder created",
			zap.String("folder_id", created.ID),
			zap.String("kind", string(key.Kind)),
			zap.String("name", key.Name),
		)
		return created, nil
	}
	if !errors.Is(err, scraper.ErrFolderExists) {
		return scraper.Folder{}, fmt.Errorf("create folder: %w", err)
	}

	// Lost the create race; the winner's row is authoritative.
	folder, found, err = r.store.FindChild(ctx, key)
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("re-read folder after create race: %w", err)
	}
	if !found {
		return scraper.Folder{}, fmt.Errorf("folder vanished after create race: %w", scraper.ErrFolderNotFound)
	}
	return folder, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
