package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vidmirror/backend/internal/config"
	"github.com/vidmirror/backend/internal/credentials"
	"github.com/vidmirror/backend/internal/db"
	"github.com/vidmirror/backend/internal/handlers"
	"github.com/vidmirror/backend/internal/middleware"
	"github.com/vidmirror/backend/internal/platform"
	"github.com/vidmirror/backend/internal/repositories"
	"github.com/vidmirror/backend/internal/search"
	"github.com/vidmirror/backend/internal/session"
	"github.com/vidmirror/backend/internal/storage"
	"github.com/vidmirror/backend/internal/videos"
	"github.com/vidmirror/backend/internal/webhook"
)

const sessionPurgeInterval = 15 * time.Minute

// buildDependencies wires together concrete implementations used by the HTTP handlers.
// The returned cleanup drains background workers and must be called on shutdown.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	videoRepo := repositories.NewPostgresVideoRepository(pool)
	userRepo := repositories.NewPostgresUserRepository(pool)
	configRepo := repositories.NewPostgresConfigRepository(pool)
	sessionStore := repositories.NewPostgresSessionStore(pool)

	codec, err := buildCodec(cfg.Credentials, logger)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	credentialPool := credentials.NewPool(userRepo, codec, credentials.NewStrategy(cfg.Credentials.Strategy))

	platformClient := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Timeout)
	ingestor := videos.NewIngestor(platformClient, videoRepo)

	blobs, err := storage.NewLocal(cfg.Storage.Dir)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	var archive videos.Archiver
	if cfg.ObjectStore.Enabled() {
		s3Archive, err := storage.NewArchive(ctx, cfg.ObjectStore)
		if err != nil {
			return handlers.Dependencies{}, nil, fmt.Errorf("configure archive: %w", err)
		}
		archive = s3Archive
	}

	downloads := videos.NewDownloadCache(videoRepo, blobs, archive, videos.DownloadConfig{
		LivenessTimeout: cfg.Storage.LivenessTimeout,
		DownloadTimeout: cfg.Storage.DownloadTimeout,
		DeleteAfterSend: cfg.Storage.DeleteAfterSend,
	})

	queue := videos.NewIngestQueue(ingestor, credentialPool, videos.IngestQueueConfig{
		QueueSize:  cfg.Webhook.QueueSize,
		Workers:    cfg.Webhook.Workers,
		JobTimeout: cfg.Platform.Timeout * 4,
	}, logger)

	stopJanitor := startSessionJanitor(sessionStore, sessionPurgeInterval, logger)

	searchService := &search.Service{
		Resolver:    search.Resolver{OwnerHandle: cfg.Search.OwnerHandle},
		Catalog:     videoRepo,
		Ingestor:    ingestor,
		Credentials: credentialPool,
		PageSize:    cfg.Search.PageSize,
	}

	deps := handlers.Dependencies{
		Search:      searchService,
		Sessions:    session.NewManager(cfg.SessionTTL, sessionStore),
		Videos:      videoRepo,
		Downloads:   downloads,
		Config:      configRepo,
		Webhook:     webhook.NewGateway(cfg.Platform.ConsumerSecret, configRepo, queue),
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit),
		SiteTitle:   cfg.SiteTitle,
		Debug:       cfg.Debug,
		Database:    pool,
	}

	cleanup := func(ctx context.Context) error {
		stopJanitor()
		return queue.Shutdown(ctx)
	}

	return deps, cleanup, nil
}

// buildCodec returns nil when no key is configured, in which case stored
// credentials are read as plaintext.
func buildCodec(cfg config.CredentialConfig, logger *slog.Logger) (*credentials.Codec, error) {
	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		logger.Warn("credential encryption key not configured; tokens are stored in plaintext")
		return nil, nil
	}
	codec, err := credentials.NewCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("configure credential codec: %w", err)
	}
	return codec, nil
}

type sessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// startSessionJanitor periodically removes expired visitor sessions until the
// returned stop function is called.
func startSessionJanitor(store sessionPurger, interval time.Duration, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				purged, err := store.DeleteExpired(ctx, now)
				switch {
				case errors.Is(err, context.Canceled):
					return
				case err != nil:
					logger.Warn("purge expired sessions", "error", err)
				case purged > 0:
					logger.Info("purged expired sessions", "count", purged)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
