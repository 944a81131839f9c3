// Package app builds and runs the scraping engine's long-lived services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/api"
	"github.com/wina-futureobjects/track-futura/internal/clock/system"
	"github.com/wina-futureobjects/track-futura/internal/config"
	"github.com/wina-futureobjects/track-futura/internal/dispatch"
	"github.com/wina-futureobjects/track-futura/internal/folders"
	"github.com/wina-futureobjects/track-futura/internal/id/uuid"
	"github.com/wina-futureobjects/track-futura/internal/ingest"
	"github.com/wina-futureobjects/track-futura/internal/logging"
	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/provider"
	"github.com/wina-futureobjects/track-futura/internal/provider/apify"
	"github.com/wina-futureobjects/track-futura/internal/provider/brightdata"
	memorypublisher "github.com/wina-futureobjects/track-futura/internal/publisher/memory"
	gcppublisher "github.com/wina-futureobjects/track-futura/internal/publisher/pubsub"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
	gcsstorage "github.com/wina-futureobjects/track-futura/internal/storage/gcs"
	memorystorage "github.com/wina-futureobjects/track-futura/internal/storage/memory"
	pgstorage "github.com/wina-futureobjects/track-futura/internal/storage/postgres"
	"github.com/wina-futureobjects/track-futura/internal/sweeper"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	sweep           *sweeper.Sweeper
	pgPool          *pgxpool.Pool
	storageClient   *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
}

// stores bundles the persistence triplet so memory and Postgres builds wire
// identically.
type stores struct {
	requests scraper.RequestStore
	posts    scraper.PostStore
	folders  scraper.FolderStore
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	st, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	registry := setupRegistry(app)
	clock := system.New()
	idGen := uuid.New()

	resolver := folders.NewResolver(st.folders, idGen, clock, logger.Named("folders"))
	dispatcher := dispatch.New(st.requests, resolver, registry,
		scraper.NewExponentialRetryPolicy(), idGen, clock,
		dispatch.Config{DispatchTimeout: cfg.DispatchTimeout()},
		logger.Named("dispatch"))

	gateway := ingest.New(st.requests, st.posts, registry, archive, publisher,
		cfg.PubSub.TopicName, clock, logger.Named("ingest"))

	app.sweep = sweeper.New(sweeper.Config{
		Interval:        cfg.SweepInterval(),
		Staleness:       cfg.Staleness(),
		MaxPollAttempts: cfg.Sweeper.MaxPollAttempts,
		PollTimeout:     cfg.PollTimeout(),
	}, st.requests, registry, gateway, clock, logger.Named("sweeper"))

	var readiness api.Pinger
	if app.pgPool != nil {
		readiness = app.pgPool
	}
	app.apiServer = api.NewServer(dispatcher, gateway,
		st.requests, st.posts, st.folders, readiness,
		api.Config{
			RequestTimeout: cfg.ServerTimeout(),
			AuthEnabled:    cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
		}, logger.Named("api"))

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("sweeper exited", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

func setupStores(ctx context.Context, app *App) (stores, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("using in-memory stores")
		folderStore := memorystorage.NewFolderStore()
		return stores{
			requests: memorystorage.NewRequestStore(folderStore),
			posts:    memorystorage.NewPostStore(),
			folders:  folderStore,
		}, nil
	}

	pool, err := pgstorage.NewPool(ctx, pgstorage.PoolConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: app.cfg.DB.MaxConns,
		MinConns: app.cfg.DB.MinConns,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres pool init failed: %w", err)
	}
	app.pgPool = pool

	folderStore, err := pgstorage.NewFolderStore(pool)
	if err != nil {
		return stores{}, fmt.Errorf("folder store init failed: %w", err)
	}
	requestStore, err := pgstorage.NewRequestStore(pool)
	if err != nil {
		return stores{}, fmt.Errorf("request store init failed: %w", err)
	}
	postStore, err := pgstorage.NewPostStore(pool)
	if err != nil {
		return stores{}, fmt.Errorf("post store init failed: %w", err)
	}
	app.logger.Info("using postgres stores")
	return stores{requests: requestStore, posts: postStore, folders: folderStore}, nil
}

func setupArchive(ctx context.Context, app *App) (scraper.RawArchive, error) {
	if app.cfg.Storage.GCSBucket == "" {
		app.logger.Info("using in-memory payload archive")
		return memorystorage.NewRawArchive(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	app.storageClient = client
	archive, err := gcsstorage.New(client, gcsstorage.Config{
		Bucket: app.cfg.Storage.GCSBucket,
		Prefix: app.cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("gcs archive init failed: %w", err)
	}
	app.logger.Info("using GCS payload archive", zap.String("bucket", app.cfg.Storage.GCSBucket))
	return archive, nil
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

// setupRegistry wires one adapter per configured provider. The dataset and
// actor maps double as the platform routing table.
func setupRegistry(app *App) *provider.Registry {
	registry := provider.NewRegistry()
	clock := system.New()
	callback := app.cfg.Dispatch.CallbackBaseURL

	if app.cfg.BrightData.APIKey != "" {
		datasets := make(map[scraper.Platform]string, len(app.cfg.BrightData.DatasetIDs))
		platforms := make([]scraper.Platform, 0, len(app.cfg.BrightData.DatasetIDs))
		for name, id := range app.cfg.BrightData.DatasetIDs {
			p := scraper.Platform(name)
			datasets[p] = id
			platforms = append(platforms, p)
		}
		adapter := brightdata.New(brightdata.Config{
			BaseURL:           app.cfg.BrightData.BaseURL,
			APIKey:            app.cfg.BrightData.APIKey,
			DatasetIDs:        datasets,
			WebhookURL:        webhookURL(callback, scraper.ProviderBrightData),
			DispatchTimeout:   app.cfg.DispatchTimeout(),
			PollTimeout:       app.cfg.PollTimeout(),
			RequestsPerSecond: app.cfg.BrightData.RequestsPerSecond,
		}, clock, app.logger.Named("brightdata"))
		registry.Register(adapter, platforms...)
		app.logger.Info("brightdata adapter registered", zap.Int("platforms", len(platforms)))
	}

	if app.cfg.Apify.Token != "" {
		actors := make(map[scraper.Platform]string, len(app.cfg.Apify.ActorIDs))
		platforms := make([]scraper.Platform, 0, len(app.cfg.Apify.ActorIDs))
		for name, id := range app.cfg.Apify.ActorIDs {
			p := scraper.Platform(name)
			actors[p] = id
			platforms = append(platforms, p)
		}
		adapter := apify.New(apify.Config{
			BaseURL:           app.cfg.Apify.BaseURL,
			Token:             app.cfg.Apify.Token,
			ActorIDs:          actors,
			WebhookURL:        webhookURL(callback, scraper.ProviderApify),
			DispatchTimeout:   app.cfg.DispatchTimeout(),
			PollTimeout:       app.cfg.PollTimeout(),
			RequestsPerSecond: app.cfg.Apify.RequestsPerSecond,
		}, clock, app.logger.Named("apify"))
		registry.Register(adapter, platforms...)
		app.logger.Info("apify adapter registered", zap.Int("platforms", len(platforms)))
	}

	return registry
}

func webhookURL(base string, p scraper.Provider) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/webhooks/%s", base, p)
}
