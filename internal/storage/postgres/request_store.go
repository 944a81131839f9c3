package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// RequestStore persists collection requests. It assumes a table schema like:
//
//	CREATE TABLE collection_requests (
//		id UUID PRIMARY KEY,
//		platform TEXT NOT NULL,
//		provider TEXT NOT NULL,
//		target TEXT NOT NULL,
//		post_limit INT NOT NULL DEFAULT 0,
//		window_start TIMESTAMPTZ,
//		window_end TIMESTAMPTZ,
//		provider_job_id TEXT NOT NULL DEFAULT '',
//		status TEXT NOT NULL,
//		folder_id UUID NOT NULL REFERENCES folders(id),
//		scrape_number INT NOT NULL,
//		poll_attempts INT NOT NULL DEFAULT 0,
//		created_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		completed_at TIMESTAMPTZ,
//		last_error TEXT NOT NULL DEFAULT ''
//	);
//	CREATE UNIQUE INDEX collection_requests_provider_job
//		ON collection_requests (provider, provider_job_id)
//		WHERE provider_job_id <> '';
type RequestStore struct {
	pool Pool
}

// NewRequestStore constructs a RequestStore on the given pool.
func NewRequestStore(pool Pool) (*RequestStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RequestStore{pool: pool}, nil
}

const requestColumns = `id, platform, provider, target, post_limit, window_start, window_end,
provider_job_id, status, folder_id, scrape_number, poll_attempts,
created_at, started_at, completed_at, last_error`

// CreateRequest inserts a pending request, allocating the folder's next
// scrape number in the same transaction so numbers stay gapless per folder.
func (s *RequestStore) CreateRequest(ctx context.Context, req scraper.CollectionRequest) (scraper.CollectionRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
UPDATE folders
SET last_scrape_number = last_scrape_number + 1
WHERE id = $1
RETURNING last_scrape_number`, req.FolderID).Scan(&req.ScrapeNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.CollectionRequest{}, scraper.ErrFolderNotFound
	}
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("allocate scrape number: %w", err)
	}

	req.Status = scraper.StatusPending
	_, err = tx.Exec(ctx, `
INSERT INTO collection_requests (`+requestColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		req.ID, req.Platform, req.Provider, req.Target, req.Limit,
		nullTime(req.Window.Start), nullTime(req.Window.End), req.ProviderJobID, req.Status,
		req.FolderID, req.ScrapeNumber, req.PollAttempts,
		req.CreatedAt, req.StartedAt, req.CompletedAt, req.LastError)
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("insert request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

// GetRequest fetches a request by id.
func (s *RequestStore) GetRequest(ctx context.Context, id string) (scraper.CollectionRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM collection_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.CollectionRequest{}, scraper.ErrRequestNotFound
	}
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// GetRequestByProviderJob looks a request up by its provider-side job id.
func (s *RequestStore) GetRequestByProviderJob(ctx context.Context, provider scraper.Provider, jobID string) (scraper.CollectionRequest, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+requestColumns+`
FROM collection_requests
WHERE provider = $1 AND provider_job_id = $2`, provider, jobID)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.CollectionRequest{}, scraper.ErrRequestNotFound
	}
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("get request by job: %w", err)
	}
	return req, nil
}

// MarkProcessing records provider acceptance of a pending request.
func (s *RequestStore) MarkProcessing(ctx context.Context, id, providerJobID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests
SET status = $2, provider_job_id = $3, started_at = $4
WHERE id = $1 AND status = $5`,
		id, scraper.StatusProcessing, providerJobID, startedAt, scraper.StatusPending)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, "processing")
	}
	return nil
}

// MarkCompleted moves a request to completed. Re-completing a completed
// request is a no-op so redelivered webhooks stay idempotent.
func (s *RequestStore) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests
SET status = $2, completed_at = $3, last_error = ''
WHERE id = $1 AND status IN ($4, $5)`,
		id, scraper.StatusCompleted, completedAt, scraper.StatusPending, scraper.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := s.GetRequest(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current.Status == scraper.StatusCompleted {
			return nil
		}
		return fmt.Errorf("request %s already %s", id, current.Status)
	}
	return nil
}

// MarkFailed moves a request to failed. Terminal requests are left alone.
func (s *RequestStore) MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE collection_requests
SET status = $2, last_error = $3, completed_at = $4
WHERE id = $1 AND status IN ($5, $6)`,
		id, scraper.StatusFailed, reason, failedAt, scraper.StatusPending, scraper.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, getErr := s.GetRequest(ctx, id)
		return getErr
	}
	return nil
}

// RecordPollError stores a diagnostic without changing the request status.
func (s *RequestStore) RecordPollError(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_requests SET last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("record poll error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrRequestNotFound
	}
	return nil
}

// IncrementPollAttempts bumps the attempt counter and returns the new value.
func (s *RequestStore) IncrementPollAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
UPDATE collection_requests
SET poll_attempts = poll_attempts + 1
WHERE id = $1
RETURNING poll_attempts`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, scraper.ErrRequestNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment poll attempts: %w", err)
	}
	return attempts, nil
}

// ListStaleProcessing returns processing requests started before the cutoff
// with attempts below the cap.
func (s *RequestStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, maxAttempts int) ([]scraper.CollectionRequest, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+requestColumns+`
FROM collection_requests
WHERE status = $1 AND started_at <= $2 AND poll_attempts < $3
ORDER BY started_at`,
		scraper.StatusProcessing, cutoff, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	return collectRequests(rows)
}

// ListByFolder returns the requests owned by a job folder.
func (s *RequestStore) ListByFolder(ctx context.Context, folderID string) ([]scraper.CollectionRequest, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+requestColumns+`
FROM collection_requests
WHERE folder_id = $1
ORDER BY scrape_number`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list folder requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *RequestStore) transitionConflict(ctx context.Context, id, wanted string) error {
	current, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("request %s is %s, cannot move to %s", id, current.Status, wanted)
}

func scanRequest(row pgx.Row) (scraper.CollectionRequest, error) {
	var req scraper.CollectionRequest
	var windowStart, windowEnd *time.Time
	err := row.Scan(&req.ID, &req.Platform, &req.Provider, &req.Target, &req.Limit,
		&windowStart, &windowEnd, &req.ProviderJobID, &req.Status,
		&req.FolderID, &req.ScrapeNumber, &req.PollAttempts,
		&req.CreatedAt, &req.StartedAt, &req.CompletedAt, &req.LastError)
	if err != nil {
		return scraper.CollectionRequest{}, err
	}
	if windowStart != nil {
		req.Window.Start = *windowStart
	}
	if windowEnd != nil {
		req.Window.End = *windowEnd
	}
	return req, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func collectRequests(rows pgx.Rows) ([]scraper.CollectionRequest, error) {
	defer rows.Close()
	var out []scraper.CollectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}
