package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// FolderStore persists the folder tree. It assumes a table schema like:
//
//	CREATE TABLE folders (
//		id UUID PRIMARY KEY,
//		kind TEXT NOT NULL,
//		name TEXT NOT NULL,
//		parent_id UUID REFERENCES folders(id),
//		project_id TEXT NOT NULL,
//		platform_code TEXT NOT NULL DEFAULT '',
//		service_code TEXT NOT NULL DEFAULT '',
//		last_scrape_number INT NOT NULL DEFAULT 0,
//		created_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (project_id, kind, name, platform_code, service_code, parent_id)
//	);
//
// The unique constraint arbitrates concurrent creation: the loser sees a
// unique violation, surfaced as ErrFolderExists so it can re-read the winner.
type FolderStore struct {
	pool Pool
}

// NewFolderStore constructs a FolderStore on the given pool.
func NewFolderStore(pool Pool) (*FolderStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FolderStore{pool: pool}, nil
}

const folderColumns = `id, kind, name, parent_id, project_id, platform_code, service_code, last_scrape_number, created_at`

// GetFolder fetches a folder by id.
func (s *FolderStore) GetFolder(ctx context.Context, id string) (scraper.Folder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id)
	folder, err := scanFolder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Folder{}, scraper.ErrFolderNotFound
	}
	if err != nil {
		return scraper.Folder{}, fmt.Errorf("get folder: %w", err)
	}
	return folder, nil
}

// FindChild looks up the folder matching the uniqueness key, if any.
func (s *FolderStore) FindChild(ctx context.Context, key scraper.FolderKey) (scraper.Folder, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+folderColumns+`
FROM folders
WHERE project_id = $1
  AND kind = $2
  AND name = $3
  AND platform_code = $4
  AND service_code = $5
  AND parent_id IS NOT DISTINCT FROM $6`,
		key.ProjectID, key.Kind, key.Name, key.PlatformCode, key.ServiceCode, key.ParentID)
	folder, err := scanFolder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Folder{}, false, nil
	}
	if err != nil {
		return scraper.Folder{}, false, fmt.Errorf("find folder: %w", err)
	}
	return folder, true, nil
}

// CreateFolder inserts a folder. A lost uniqueness race returns
// ErrFolderExists.
func (s *FolderStore) CreateFolder(ctx context.Context, folder scraper.Folder) (scraper.Folder, error) {
	_, err := s.pool.Exec(ctx, `
INSERT INTO folders (`+folderColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		folder.ID, folder.Kind, folder.Name, folder.ParentID, folder.ProjectID,
		folder.PlatformCode, folder.ServiceCode, folder.LastScrapeNumber, folder.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return scraper.Folder{}, scraper.ErrFolderExists
		}
		return scraper.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func scanFolder(row pgx.Row) (scraper.Folder, error) {
	var f scraper.Folder
	err := row.Scan(&f.ID, &f.Kind, &f.Name, &f.ParentID, &f.ProjectID,
		&f.PlatformCode, &f.ServiceCode, &f.LastScrapeNumber, &f.CreatedAt)
	return f, err
}
