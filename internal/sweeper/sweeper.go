// Package sweeper reconciles in-flight requests whose webhook never arrived
// by polling the provider for results.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/ingest"
	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Config tunes the sweep cadence and give-up thresholds.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// Staleness is how long a processing request must sit without a webhook
	// before the sweeper polls for it.
	Staleness time.Duration
	// MaxPollAttempts caps polls per request before it is failed.
	MaxPollAttempts int
	// PollTimeout bounds one provider fetch call.
	PollTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 5 * time.Minute
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 10
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 15 * time.Second
	}
	return c
}

// Sweeper periodically finds stale processing requests and pulls their
// results from the provider.
type Sweeper struct {
	cfg      Config
	requests scraper.RequestStore
	registry *provider.Registry
	gateway  *ingest.Gateway
	clock    scraper.Clock
	logger   *zap.Logger
}

// New constructs a Sweeper.
func New(cfg Config, requests scraper.RequestStore, registry *provider.Registry, gateway *ingest.Gateway, clock scraper.Clock, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg.withDefaults(),
		requests: requests,
		registry: registry,
		gateway:  gateway,
		clock:    clock,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("staleness", s.cfg.Staleness),
		zap.Int("max_poll_attempts", s.cfg.MaxPollAttempts),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce polls every stale processing request once. Each request either
// completes, records another attempt, or fails after exhausting its budget.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.Staleness)
	stale, err := s.requests.ListStaleProcessing(ctx, cutoff, s.cfg.MaxPollAttempts)
	if err != nil {
		return fmt.Errorf("list stale requests: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	s.logger.Info("sweeping stale requests", zap.Int("count", len(stale)))

	for _, req := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.pollRequest(ctx, req)
	}
	return nil
}

// pollRequest fetches one request's result. Not-ready and transient errors
// both consume an attempt so every request terminates within the budget.
func (s *Sweeper) pollRequest(ctx context.Context, req scraper.CollectionRequest) {
	logger := s.logger.With(
		zap.String("request_id", req.ID),
		zap.String("provider", string(req.Provider)),
		zap.String("provider_job_id", req.ProviderJobID),
	)

	adapter, err := s.registry.ForProvider(req.Provider)
	if err != nil {
		logger.Error("no adapter for request", zap.Error(err))
		s.giveUp(ctx, req, "no adapter for provider "+string(req.Provider))
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	batch, err := adapter.FetchResult(fetchCtx, req.ProviderJobID)
	cancel()

	switch {
	case err == nil:
		outcome, ingestErr := s.gateway.IngestPollResult(ctx, req, batch)
		if ingestErr != nil {
			logger.Error("ingest poll result", zap.Error(ingestErr))
			metrics.SweeperPoll("ingest_error")
			s.recordAttempt(ctx, req, "ingest failed: "+ingestErr.Error())
			return
		}
		logger.Info("request reconciled by poll",
			zap.Int("items", outcome.ItemsProcessed),
			zap.Int("inserted", outcome.Stats.Inserted),
		)
		metrics.SweeperPoll("completed")

	case errors.Is(err, scraper.ErrNotReady):
		logger.Debug("provider still working")
		metrics.SweeperPoll("not_ready")
		s.recordAttempt(ctx, req, "")

	case scraper.IsPermanent(err):
		logger.Warn("provider rejected job permanently", zap.Error(err))
		metrics.SweeperPoll("permanent_error")
		if failErr := s.requests.MarkFailed(ctx, req.ID, err.Error(), s.clock.Now()); failErr != nil {
			logger.Error("mark request failed", zap.Error(failErr))
		}

	default:
		logger.Warn("poll attempt failed", zap.Error(err))
		metrics.SweeperPoll("transient_error")
		s.recordAttempt(ctx, req, err.Error())
	}
}

// recordAttempt bumps the poll counter and fails the request once the budget
// is exhausted.
func (s *Sweeper) recordAttempt(ctx context.Context, req scraper.CollectionRequest, reason string) {
	if reason != "" {
		if err := s.requests.RecordPollError(ctx, req.ID, reason); err != nil {
			s.logger.Error("record poll error", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	attempts, err := s.requests.IncrementPollAttempts(ctx, req.ID)
	if err != nil {
		s.logger.Error("increment poll attempts", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	if attempts >= s.cfg.MaxPollAttempts {
		s.giveUp(ctx, req, fmt.Sprintf("no result after %d poll attempts", attempts))
	}
}

func (s *Sweeper) giveUp(ctx context.Context, req scraper.CollectionRequest, reason string) {
	if err := s.requests.MarkFailed(ctx, req.ID, reason, s.clock.Now()); err != nil {
		s.logger.Error("mark request failed",
			zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	metrics.SweeperPoll("exhausted")
	s.logger.Warn("request failed",
		zap.String("request_id", req.ID),
		zap.String("reason", reason),
	)
}
