package handlers

import (
	"context"
	"time"

	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/search"
	"github.com/vidmirror/backend/internal/videos"
)

// SearchService runs accumulating searches against the catalog.
type SearchService interface {
	Search(ctx context.Context, state search.State, raw string, page int) (search.State, models.Page, error)
	Navigate(ctx context.Context, state search.State, page int) (search.State, models.Page, error)
	NavigatePermalink(ctx context.Context, state search.State, username, permalink string) (search.State, models.Page, error)
	Refresh(ctx context.Context, state search.State) (search.State, error)
}

// SessionStore loads and persists per-visitor state.
type SessionStore interface {
	NewID() (string, error)
	TTL() time.Duration
	Load(ctx context.Context, id string, dst any) error
	Save(ctx context.Context, id string, state any) error
}

// VideoFinder looks up individual videos and the trending set.
type VideoFinder interface {
	FindByPermalink(ctx context.Context, permalink string) (models.Video, error)
	ListTrending(ctx context.Context, limit int) ([]models.Video, error)
}

// Downloader checks remote liveness and serves cached binaries.
type Downloader interface {
	CheckLiveness(ctx context.Context, video models.Video) error
	Materialize(ctx context.Context, video models.Video, record bool) (videos.Asset, error)
	Release(asset videos.Asset)
}

// ConfigReader reads named application settings.
type ConfigReader interface {
	Get(ctx context.Context, name string) (string, error)
}

// WebhookGateway answers CRC challenges and accepts push deliveries.
type WebhookGateway interface {
	Challenge(ctx context.Context, token string) (string, error)
	Accept(ctx context.Context, body []byte) (int, error)
}
