package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

type providerJobKey struct {
	provider scraper.Provider
	jobID    string
}

// RequestStore keeps collection requests in process memory. Scrape numbers
// are allocated through the folder store's counter so the memory and
// Postgres implementations share semantics.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]scraper.CollectionRequest
	byJob    map[providerJobKey]string
	folders  *FolderStore
}

// NewRequestStore constructs a RequestStore backed by the given folder store.
func NewRequestStore(folders *FolderStore) *RequestStore {
	return &RequestStore{
		requests: make(map[string]scraper.CollectionRequest),
		byJob:    make(map[providerJobKey]string),
		folders:  folders,
	}
}

// CreateRequest persists a pending request and allocates its scrape number.
func (s *RequestStore) CreateRequest(_ context.Context, req scraper.CollectionRequest) (scraper.CollectionRequest, error) {
	number, err := s.folders.nextScrapeNumber(req.FolderID)
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("allocate scrape number: %w", err)
	}
	req.ScrapeNumber = number
	req.Status = scraper.StatusPending

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return scraper.CollectionRequest{}, fmt.Errorf("request %s already exists", req.ID)
	}
	s.requests[req.ID] = req
	return req, nil
}

// GetRequest fetches a request by id.
func (s *RequestStore) GetRequest(_ context.Context, id string) (scraper.CollectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return scraper.CollectionRequest{}, scraper.ErrRequestNotFound
	}
	return req, nil
}

// GetRequestByProviderJob looks a request up by its provider-side job id.
func (s *RequestStore) GetRequestByProviderJob(_ context.Context, provider scraper.Provider, jobID string) (scraper.CollectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byJob[providerJobKey{provider: provider, jobID: jobID}]
	if !ok {
		return scraper.CollectionRequest{}, scraper.ErrRequestNotFound
	}
	return s.requests[id], nil
}

// MarkProcessing records provider acceptance.
func (s *RequestStore) MarkProcessing(_ context.Context, id, providerJobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return scraper.ErrRequestNotFound
	}
	if req.Status != scraper.StatusPending {
		return fmt.Errorf("request %s is %s, cannot move to processing", id, req.Status)
	}
	req.Status = scraper.StatusProcessing
	req.ProviderJobID = providerJobID
	req.StartedAt = pointerTime(startedAt)
	s.requests[id] = req
	s.byJob[providerJobKey{provider: req.Provider, jobID: providerJobID}] = id
	return nil
}

// MarkCompleted moves a request to its terminal success state. Completing an
// already-completed request is a no-op so redelivered webhooks stay idempotent.
func (s *RequestStore) MarkCompleted(_ context.Context, id string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return scraper.ErrRequestNotFound
	}
	if req.Status == scraper.StatusCompleted {
		return nil
	}
	if req.Status == scraper.StatusFailed {
		return fmt.Errorf("request %s already failed", id)
	}
	req.Status = scraper.StatusCompleted
	req.CompletedAt = pointerTime(completedAt)
	req.LastError = ""
	s.requests[id] = req
	return nil
}

// MarkFailed moves a request to its terminal failure state.
func (s *RequestStore) MarkFailed(_ context.Context, id, reason string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return scraper.ErrRequestNotFound
	}
	if req.Terminal() {
		return nil
	}
	req.Status = scraper.StatusFailed
	req.LastError = reason
	req.CompletedAt = pointerTime(failedAt)
	s.requests[id] = req
	return nil
}

// RecordPollError stores a diagnostic without changing status.
func (s *RequestStore) RecordPollError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return scraper.ErrRequestNotFound
	}
	req.LastError = reason
	s.requests[id] = req
	return nil
}

// IncrementPollAttempts bumps the attempt counter and returns the new value.
func (s *RequestStore) IncrementPollAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return 0, scraper.ErrRequestNotFound
	}
	req.PollAttempts++
	s.requests[id] = req
	return req.PollAttempts, nil
}

// ListStaleProcessing returns processing requests started before the cutoff
// with attempts below the cap.
func (s *RequestStore) ListStaleProcessing(_ context.Context, cutoff time.Time, maxAttempts int) ([]scraper.CollectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.CollectionRequest
	for _, req := range s.requests {
		if req.Status != scraper.StatusProcessing || req.StartedAt == nil {
			continue
		}
		if req.StartedAt.After(cutoff) {
			continue
		}
		if req.PollAttempts >= maxAttempts {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// ListByFolder returns the requests owned by a job folder.
func (s *RequestStore) ListByFolder(_ context.Context, folderID string) ([]scraper.CollectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.CollectionRequest
	for _, req := range s.requests {
		if req.FolderID == folderID {
			out = append(out, req)
		}
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
