// Package ingest funnels webhook and poll deliveries through one
// normalization, deduplication, and completion pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Outcome summarizes one ingestion: whether the delivery matched a known
// request, and what the upsert did.
type Outcome struct {
	Matched        bool                `json:"matched"`
	RequestID      string              `json:"request_id,omitempty"`
	ItemsProcessed int                 `json:"items_processed"`
	ItemsSkipped   int                 `json:"items_skipped"`
	Stats          scraper.UpsertStats `json:"stats"`
}

// Gateway is the single entry point for incoming provider data.
type Gateway struct {
	requests  scraper.RequestStore
	posts     scraper.PostStore
	registry  *provider.Registry
	archive   scraper.RawArchive
	publisher scraper.Publisher
	topic     string
	clock     scraper.Clock
	logger    *zap.Logger
}

// New constructs a Gateway. The archive and publisher are optional.
func New(
	requests scraper.RequestStore,
	posts scraper.PostStore,
	registry *provider.Registry,
	archive scraper.RawArchive,
	publisher scraper.Publisher,
	topic string,
	clock scraper.Clock,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		requests:  requests,
		posts:     posts,
		registry:  registry,
		archive:   archive,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logger,
	}
}

// IngestWebhook handles a provider push callback. An unknown or late job id
// is archived and reported as unmatched, never as an error: providers
// redeliver, and the sweeper may have reconciled the request already.
func (g *Gateway) IngestWebhook(ctx context.Context, prov scraper.Provider, providerJobID string, payload []byte) (Outcome, error) {
	g.archivePayload(ctx, fmt.Sprintf("webhooks/%s/%s-%d.json", prov, providerJobID, g.clock.Now().UnixNano()), payload)

	req, err := g.requests.GetRequestByProviderJob(ctx, prov, providerJobID)
	if err != nil {
		if errors.Is(err, scraper.ErrRequestNotFound) {
			g.logger.Info("webhook did not match a known request",
				zap.String("provider", string(prov)),
				zap.String("provider_job_id", providerJobID),
			)
			metrics.WebhookReceived(string(prov), "unmatched")
			return Outcome{Matched: false}, nil
		}
		return Outcome{}, fmt.Errorf("match webhook: %w", err)
	}

	items, err := scraper.DecodeItems(payload)
	if err != nil {
		// Undecodable payloads are recorded on the request but, like any
		// other webhook, acknowledged to the provider.
		g.logger.Warn("webhook payload not decodable",
			zap.String("request_id", req.ID), zap.Error(err))
		metrics.WebhookReceived(string(prov), "undecodable")
		if recErr := g.requests.RecordPollError(ctx, req.ID, "webhook payload not decodable: "+err.Error()); recErr != nil {
			g.logger.Error("record webhook decode error", zap.String("request_id", req.ID), zap.Error(recErr))
		}
		return Outcome{Matched: true, RequestID: req.ID}, nil
	}

	outcome, err := g.ingest(ctx, req, items, scraper.ChannelWebhook)
	if err != nil {
		return outcome, err
	}
	metrics.WebhookReceived(string(prov), "matched")
	return outcome, nil
}

// IngestPollResult routes a sweeper-fetched batch through the same pipeline
// as a webhook delivery.
func (g *Gateway) IngestPollResult(ctx context.Context, req scraper.CollectionRequest, batch scraper.ResultBatch) (Outcome, error) {
	if raw, err := json.Marshal(batch.Items); err == nil {
		g.archivePayload(ctx, fmt.Sprintf("polls/%s/%s-%d.json", req.Provider, req.ProviderJobID, g.clock.Now().UnixNano()), raw)
	}
	return g.ingest(ctx, req, batch.Items, scraper.ChannelPoll)
}

// ingest normalizes, upserts, and finalizes one delivered batch. Per-item
// normalization failures skip the item without aborting the batch; an empty
// valid result is still a successful completion.
func (g *Gateway) ingest(ctx context.Context, req scraper.CollectionRequest, items []json.RawMessage, channel scraper.DeliveryChannel) (Outcome, error) {
	adapter, err := g.registry.ForProvider(req.Provider)
	if err != nil {
		return Outcome{Matched: true, RequestID: req.ID}, fmt.Errorf("select adapter: %w", err)
	}

	deliveredAt := g.clock.Now()
	posts := make([]scraper.ScrapedPost, 0, len(items))
	skipped := 0
	for _, item := range items {
		candidate, err := adapter.Normalize(item)
		if err != nil {
			skipped++
			if errors.Is(err, scraper.ErrEmptyMarker) {
				// Legitimate empty result marker, not a data defect.
				continue
			}
			g.logger.Warn("item normalization failed",
				zap.String("request_id", req.ID),
				zap.String("platform", string(req.Platform)),
				zap.Error(err),
			)
			continue
		}
		posts = append(posts, scraper.ScrapedPost{
			Platform:     req.Platform,
			PostID:       candidate.PostID,
			FolderID:     req.FolderID,
			AuthorHandle: candidate.AuthorHandle,
			Content:      candidate.Content,
			Likes:        candidate.Likes,
			Comments:     candidate.Comments,
			Shares:       candidate.Shares,
			PostedAt:     candidate.PostedAt,
			RequestID:    req.ID,
			RawPayload:   candidate.Raw,
			Channel:      channel,
			DeliveredAt:  deliveredAt,
		})
	}

	var stats scraper.UpsertStats
	if len(posts) > 0 {
		stats, err = g.posts.UpsertPosts(ctx, posts)
		if err != nil {
			// Whatever was upserted before the failure stays; the request
			// remains processing so the sweeper can finish the job.
			return Outcome{Matched: true, RequestID: req.ID}, fmt.Errorf("upsert posts: %w", err)
		}
		metrics.PostsIngested(string(req.Platform), string(channel), stats.Inserted)
	}

	if err := g.requests.MarkCompleted(ctx, req.ID, g.clock.Now()); err != nil {
		return Outcome{Matched: true, RequestID: req.ID}, fmt.Errorf("mark request completed: %w", err)
	}

	g.publishCompletion(ctx, req, stats, channel)
	g.logger.Info("batch ingested",
		zap.String("request_id", req.ID),
		zap.String("channel", string(channel)),
		zap.Int("items", len(items)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped_items", skipped),
	)
	return Outcome{
		Matched:        true,
		RequestID:      req.ID,
		ItemsProcessed: len(posts),
		ItemsSkipped:   skipped,
		Stats:          stats,
	}, nil
}

func (g *Gateway) archivePayload(ctx context.Context, path string, payload []byte) {
	if g.archive == nil {
		return
	}
	if _, err := g.archive.Put(ctx, path, "application/json", payload); err != nil {
		g.logger.Error("archive payload", zap.String("path", path), zap.Error(err))
	}
}

func (g *Gateway) publishCompletion(ctx context.Context, req scraper.CollectionRequest, stats scraper.UpsertStats, channel scraper.DeliveryChannel) {
	if g.publisher == nil || g.topic == "" {
		return
	}
	payload := map[string]any{
		"request_id":    req.ID,
		"folder_id":     req.FolderID,
		"platform":      req.Platform,
		"status":        scraper.StatusCompleted,
		"channel":       channel,
		"posts_added":   stats.Inserted,
		"posts_updated": stats.Updated,
		"completed_at":  g.clock.Now().UTC(),
	}
	if _, err := g.publisher.Publish(ctx, g.topic, payload); err != nil {
		g.logger.Error("publish completion event",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}
