package repositories

import (
	"context"

	"github.com/vidmirror/backend/internal/models"
)

// VideoRepository exposes data access for mirrored videos.
type VideoRepository interface {
	Exists(ctx context.Context, filter models.Filter) (bool, error)
	ExistsForOwner(ctx context.Context, username, permalink string) (bool, error)
	ListPage(ctx context.Context, filter models.Filter, page, perPage int) (models.Page, error)
	FindByPermalink(ctx context.Context, permalink string) (models.Video, error)
	UpsertVideo(ctx context.Context, tweetID string, attrs models.VideoAttrs) (models.Video, error)
	UpsertVideoWithOwner(ctx context.Context, tweetID string, owner models.User, attrs models.VideoAttrs) (models.Video, error)
	DeleteVideo(ctx context.Context, id int64) error
	ListTrending(ctx context.Context, limit int) ([]models.Video, error)
	IncrementDownload(ctx context.Context, userID, videoID int64) (int, error)
}
