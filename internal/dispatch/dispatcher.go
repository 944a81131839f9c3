// Package dispatch turns logical collection requests into provider jobs.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/folders"
	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Params describes one logical ask to scrape a target.
type Params struct {
	ProjectID string
	RunName   string
	Platform  scraper.Platform
	Service   string
	Targets   []string
	Window    scraper.DateWindow
	Limit     int
	NewJob    bool
}

// Config controls Dispatcher behavior.
type Config struct {
	DispatchTimeout time.Duration
	CallbackURL     string
}

// Dispatcher resolves the destination folder, persists the request, and
// hands the work to the matching provider adapter.
type Dispatcher struct {
	requests scraper.RequestStore
	resolver *folders.Resolver
	registry *provider.Registry
	retry    *scraper.ExponentialRetryPolicy
	idGen    scraper.IDGenerator
	clock    scraper.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Dispatcher.
func New(
	requests scraper.RequestStore,
	resolver *folders.Resolver,
	registry *provider.Registry,
	retry *scraper.ExponentialRetryPolicy,
	idGen scraper.IDGenerator,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Dispatcher{
		requests: requests,
		resolver: resolver,
		registry: registry,
		retry:    retry,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateAndDispatch persists a pending request against its job folder and
// dispatches it to the provider. The request always leaves this method in
// processing or failed state, never stuck at pending.
func (d *Dispatcher) CreateAndDispatch(ctx context.Context, params Params) (scraper.CollectionRequest, error) {
	if len(params.Targets) == 0 {
		return scraper.CollectionRequest{}, fmt.Errorf("at least one target required")
	}
	adapter, err := d.registry.ForPlatform(params.Platform)
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("select provider: %w", err)
	}

	folder, err := d.resolver.ResolveOrCreateJobFolder(ctx, folders.JobKey{
		ProjectID: params.ProjectID,
		RunName:   params.RunName,
		Platform:  params.Platform,
		Service:   params.Service,
		NewJob:    params.NewJob,
	})
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("resolve job folder: %w", err)
	}

	id, err := d.idGen.NewID()
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("generate request id: %w", err)
	}
	req, err := d.requests.CreateRequest(ctx, scraper.CollectionRequest{
		ID:        id,
		Platform:  params.Platform,
		Provider:  adapter.Provider(),
		Target:    params.Targets[0],
		Limit:     params.Limit,
		Window:    params.Window,
		FolderID:  folder.ID,
		CreatedAt: d.clock.Now(),
	})
	if err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("create request: %w", err)
	}

	handle, dispatchErr := d.dispatchWithRetry(ctx, adapter, scraper.DispatchRequest{
		Platform:    params.Platform,
		Targets:     params.Targets,
		Window:      params.Window,
		Limit:       params.Limit,
		RequestID:   req.ID,
		CallbackURL: d.cfg.CallbackURL,
	})
	if dispatchErr != nil {
		if err := d.requests.MarkFailed(ctx, req.ID, dispatchErr.Error(), d.clock.Now()); err != nil {
			d.logger.Error("mark request failed after dispatch error",
				zap.String("request_id", req.ID), zap.Error(err))
		}
		metrics.RequestDispatched(string(params.Platform), string(scraper.StatusFailed))
		req.Status = scraper.StatusFailed
		req.LastError = dispatchErr.Error()
		d.logger.Warn("dispatch failed",
			zap.String("request_id", req.ID),
			zap.String("platform", string(params.Platform)),
			zap.Error(dispatchErr),
		)
		return req, nil
	}

	startedAt := d.clock.Now()
	if err := d.requests.MarkProcessing(ctx, req.ID, handle.JobID, startedAt); err != nil {
		return scraper.CollectionRequest{}, fmt.Errorf("mark request processing: %w", err)
	}
	metrics.RequestDispatched(string(params.Platform), string(scraper.StatusProcessing))
	req.Status = scraper.StatusProcessing
	req.ProviderJobID = handle.JobID
	req.StartedAt = &startedAt

	d.logger.Info("request dispatched",
		zap.String("request_id", req.ID),
		zap.String("provider", string(handle.Provider)),
		zap.String("provider_job_id", handle.JobID),
		zap.String("folder_id", folder.ID),
		zap.Int("scrape_number", req.ScrapeNumber),
	)
	return req, nil
}

// dispatchWithRetry applies jittered exponential backoff around the adapter
// call. Permanent rejections bypass retry entirely. No store lock is held
// while the network call is in flight.
func (d *Dispatcher) dispatchWithRetry(ctx context.Context, adapter scraper.Adapter, req scraper.DispatchRequest) (scraper.JobHandle, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
		handle, err := adapter.Dispatch(callCtx, req)
		cancel()
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !d.retry.ShouldRetry(err, attempt+1) {
			return scraper.JobHandle{}, lastErr
		}
		select {
		case <-ctx.Done():
			return scraper.JobHandle{}, ctx.Err()
		case <-time.After(d.retry.Backoff(attempt)):
		}
	}
}
