package scraper

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and the orchestration pipeline.
var (
	// ErrNotReady is returned by Adapter.FetchResult while the provider is
	// still working on the job.
	ErrNotReady = errors.New("provider result not ready")

	// ErrEmptyMarker flags a provider item that is a warning placeholder
	// ("no posts found", "dead page") rather than content. The gateway
	// skips such items; a batch of only markers is a legitimate empty result.
	ErrEmptyMarker = errors.New("provider empty-result marker")

	// ErrRequestNotFound is returned when no request matches a lookup. For
	// webhook matching this is an expected outcome, never fatal.
	ErrRequestNotFound = errors.New("collection request not found")

	// ErrFolderNotFound is returned for unknown folder ids.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrFolderExists signals a lost create race on the folder uniqueness
	// constraint; callers re-read the winner's row.
	ErrFolderExists = errors.New("folder already exists")
)

// DispatchError is a permanent provider rejection: the payload or auth is
// invalid and retrying cannot help. The vendor's literal response body is
// retained for the request's diagnostic record.
type DispatchError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s rejected dispatch (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsPermanent reports whether err should bypass retry entirely.
func IsPermanent(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
