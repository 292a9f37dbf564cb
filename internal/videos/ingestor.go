package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vidmirror/backend/internal/credentials"
	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/platform"
)

// PlatformClient looks up a single post on the upstream platform.
type PlatformClient interface {
	LookupVideo(ctx context.Context, token, id string) (platform.Post, error)
}

// CatalogWriter persists ingested videos together with their owner.
type CatalogWriter interface {
	UpsertVideoWithOwner(ctx context.Context, tweetID string, owner models.User, attrs models.VideoAttrs) (models.Video, error)
}

// Ingestor fetches video metadata from the platform and upserts it into the catalog.
type Ingestor struct {
	platform PlatformClient
	catalog  CatalogWriter
}

// NewIngestor constructs an Ingestor.
func NewIngestor(client PlatformClient, catalog CatalogWriter) *Ingestor {
	return &Ingestor{platform: client, catalog: catalog}
}

// FetchAndStore looks up externalID with cred and upserts the result. It never
// retries; NotFound leaves the catalog untouched.
func (i *Ingestor) FetchAndStore(ctx context.Context, cred credentials.Credential, externalID string) (models.Video, error) {
	if i == nil || i.platform == nil || i.catalog == nil {
		return models.Video{}, ErrUpstreamUnavailable
	}

	ctx, span := logging.StartSpan(ctx, "videos.fetch_and_store")
	defer span.End()
	logger := logging.FromContext(ctx).With(slog.String("externalId", externalID), slog.Int64("credentialUserId", cred.UserID))

	post, err := i.platform.LookupVideo(ctx, cred.AccessToken, externalID)
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrNotFound):
			logger.Info("platform lookup found no video", "error", err)
			return models.Video{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		default:
			span.Fail(err)
			return models.Video{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}

	owner := models.User{
		ExternalID: post.UserID,
		Username:   post.Username,
		Role:       models.RoleMember,
	}
	attrs := models.VideoAttrs{
		Permalink: post.ID,
		Source:    post.Username,
		URL:       post.VideoURL,
		Thumbnail: post.Thumbnail,
		PostedAt:  post.PostedAt,
	}

	video, err := i.catalog.UpsertVideoWithOwner(ctx, post.ID, owner, attrs)
	if err != nil {
		logger.Error("store ingested video", "error", err)
		span.Fail(err)
		return models.Video{}, fmt.Errorf("store video %s: %w", post.ID, err)
	}

	logger.Info("video ingested", "videoId", video.ID, "permalink", video.Permalink)
	return video, nil
}
