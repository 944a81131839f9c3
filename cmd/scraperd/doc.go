// Package main hosts the scraping engine entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, webhook, and
//     request management endpoints. Scrape requests are validated, resolved to
//     a job folder, persisted, and dispatched to a provider before the 202
//     response returns.
//   - Providers: internal/provider routes each platform to a vendor adapter
//     (BrightData dataset API, Apify actor API). Adapters clamp date windows
//     to end no later than yesterday, rate-limit outbound calls, and
//     normalize vendor items to the canonical post shape.
//   - Ingestion: internal/ingest funnels webhook pushes and sweeper polls
//     through one pipeline: archive the raw payload, normalize, upsert with
//     timestamp-guarded deduplication, complete the request, publish a
//     completion event.
//   - Reconciliation: internal/sweeper polls providers for processing
//     requests whose webhook never arrived, capped by a per-request attempt
//     budget so every request terminates.
//   - Persistence: folder tree, requests, and posts live in Postgres (pgx) or
//     in-memory stores; raw payloads go to GCS when a bucket is configured.
//     Scrape numbers are allocated from a per-folder counter inside the
//     request insert transaction, so they stay gapless per job folder.
//   - Configuration & plumbing: Viper populates config from env/files (prefix
//     SCRAPER); zap provides structured logging; Prometheus metrics are
//     exported via middleware and /metrics; Pub/Sub carries completion events
//     when a topic is configured.
//
// Operational notes:
//   - Webhooks are acknowledged with 200 for every readable delivery; a
//     non-2xx would make vendors redeliver payloads that are already archived
//     or reconcilable by polling.
//   - Shutdown is coordinated via context cancellation from main through the
//     sweeper and HTTP server; SIGTERM drains in-flight requests.
//
// Run locally: go run ./cmd/scraperd -config config.yaml (or rely solely on
// SCRAPER_* env overrides).
package main
