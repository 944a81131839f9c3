package scraper

import (
	"context"
	"time"
)

// Adapter is the per-vendor capability set. One implementation exists per
// provider; orchestration code never branches on vendor identity.
type Adapter interface {
	// Provider returns the vendor this adapter speaks to.
	Provider() Provider

	// Dispatch submits a scrape job and returns the provider's job handle.
	// Date windows are clamped to end no later than yesterday before the
	// wire call; permanently rejected payloads surface as *DispatchError.
	Dispatch(ctx context.Context, req DispatchRequest) (JobHandle, error)

	// FetchResult retrieves the output of a known job. It returns
	// ErrNotReady while the provider is still working.
	FetchResult(ctx context.Context, providerJobID string) (ResultBatch, error)

	// Normalize converts one raw provider item into the canonical candidate
	// shape. Warning markers ("no posts found", "dead page") surface as
	// ErrEmptyMarker; missing engagement fields default to zero.
	Normalize(raw []byte) (PostCandidate, error)
}

// RequestStore persists collection requests and their status lifecycle.
type RequestStore interface {
	// CreateRequest persists a pending request, allocating the next scrape
	// number for its folder in the same atomic unit.
	CreateRequest(ctx context.Context, req CollectionRequest) (CollectionRequest, error)
	GetRequest(ctx context.Context, id string) (CollectionRequest, error)
	// GetRequestByProviderJob looks a request up by its provider-side job id.
	GetRequestByProviderJob(ctx context.Context, provider Provider, jobID string) (CollectionRequest, error)
	// MarkProcessing records provider acceptance: job id + started timestamp.
	MarkProcessing(ctx context.Context, id, providerJobID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, failedAt time.Time) error
	// RecordPollError stores a diagnostic on the request without changing
	// its status.
	RecordPollError(ctx context.Context, id, reason string) error
	// IncrementPollAttempts bumps the attempt counter and returns the new value.
	IncrementPollAttempts(ctx context.Context, id string) (int, error)
	// ListStaleProcessing returns processing requests started before the
	// cutoff whose attempt counter is below the cap.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, maxAttempts int) ([]CollectionRequest, error)
	// ListByFolder returns the requests owned by a job folder.
	ListByFolder(ctx context.Context, folderID string) ([]CollectionRequest, error)
}

// PostStore is the idempotent upsert boundary for normalized posts.
type PostStore interface {
	UpsertPosts(ctx context.Context, posts []ScrapedPost) (UpsertStats, error)
	ListPosts(ctx context.Context, folderID string) ([]ScrapedPost, error)
	CountPosts(ctx context.Context, folderID string) (int, error)
}

// FolderKey identifies one child slot under a parent folder.
type FolderKey struct {
	ProjectID    string
	ParentID     *string
	Kind         FolderKind
	Name         string
	PlatformCode string
	ServiceCode  string
}

// FolderStore persists the folder tree.
type FolderStore interface {
	GetFolder(ctx context.Context, id string) (Folder, error)
	// FindChild looks up the folder matching the key, if any.
	FindChild(ctx context.Context, key FolderKey) (Folder, bool, error)
	// CreateFolder inserts a folder; a lost uniqueness race returns
	// ErrFolderExists so the caller can re-read the winner.
	CreateFolder(ctx context.Context, folder Folder) (Folder, error)
}

// RawArchive stores delivered payloads verbatim for audit and replay.
type RawArchive interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Publisher pushes request lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and folder IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
