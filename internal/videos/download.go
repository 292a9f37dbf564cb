package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/storage"
)

// DownloadCatalog is the slice of the catalog the download path mutates.
type DownloadCatalog interface {
	DeleteVideo(ctx context.Context, id int64) error
	IncrementDownload(ctx context.Context, userID, videoID int64) (int, error)
}

// BlobStore persists cached video binaries.
type BlobStore interface {
	Exists(name string) (bool, error)
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	Open(name string) (*os.File, error)
	Remove(name string) error
}

// Archiver mirrors freshly fetched binaries to long-term storage.
type Archiver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// DownloadConfig controls remote fetch deadlines and local retention.
type DownloadConfig struct {
	LivenessTimeout time.Duration
	DownloadTimeout time.Duration
	DeleteAfterSend bool
}

// Asset is a materialized video ready to stream. File is positioned at the
// start and must be handed back to Release once the response is written.
type Asset struct {
	Name            string
	Size            int64
	ModTime         time.Time
	Downloads       int
	DeleteAfterSend bool
	File            *os.File
}

// DownloadCache checks remote liveness, caches binaries by permalink and
// records download counts.
type DownloadCache struct {
	http    *resty.Client
	catalog DownloadCatalog
	blobs   BlobStore
	archive Archiver
	cfg     DownloadConfig

	flight singleflight.Group
}

// NewDownloadCache constructs a DownloadCache. archive may be nil.
func NewDownloadCache(catalog DownloadCatalog, blobs BlobStore, archive Archiver, cfg DownloadConfig) *DownloadCache {
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 10 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.LivenessTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.LivenessTimeout,
		ResponseHeaderTimeout: cfg.LivenessTimeout,
		MaxIdleConnsPerHost:   4,
	}
	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.DownloadTimeout)

	return &DownloadCache{
		http:    client,
		catalog: catalog,
		blobs:   blobs,
		archive: archive,
		cfg:     cfg,
	}
}

// BlobName is the cache key for a video.
func BlobName(permalink string) string {
	return permalink + ".mp4"
}

// CheckLiveness confirms the remote binary is still served. A non-success
// status deletes the video and yields ErrVideoGone; transport failures and
// timeouts yield ErrUpstreamUnavailable and leave the catalog untouched.
func (c *DownloadCache) CheckLiveness(ctx context.Context, video models.Video) error {
	body, err := c.openRemote(ctx, video)
	if err != nil {
		return err
	}
	return body.Close()
}

// Materialize ensures the video binary is cached locally and returns an open
// handle on it. When record is set the download is counted against the
// video's owner; follow-up range requests for the same file pass false.
func (c *DownloadCache) Materialize(ctx context.Context, video models.Video, record bool) (Asset, error) {
	if c == nil || c.blobs == nil || c.catalog == nil {
		return Asset{}, ErrUpstreamUnavailable
	}
	if strings.TrimSpace(video.Permalink) == "" {
		return Asset{}, ErrNotFound
	}

	ctx, span := logging.StartSpan(ctx, "videos.materialize")
	defer span.End()
	logger := logging.FromContext(ctx).With(slog.Int64("videoId", video.ID), slog.String("permalink", video.Permalink))

	name := BlobName(video.Permalink)

	var file *os.File
	for attempt := 0; attempt < 2 && file == nil; attempt++ {
		if err := c.fill(ctx, video, name, logger); err != nil {
			return Asset{}, err
		}

		f, err := c.blobs.Open(name)
		switch {
		case errors.Is(err, storage.ErrBlobNotFound):
			// released by a concurrent request between fill and open
			logger.Debug("cached blob vanished, refilling", "attempt", attempt)
			continue
		case err != nil:
			return Asset{}, fmt.Errorf("open cached video: %w", err)
		}
		file = f
	}
	if file == nil {
		return Asset{}, fmt.Errorf("%w: cached video unavailable", ErrUpstreamUnavailable)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return Asset{}, fmt.Errorf("stat cached video: %w", err)
	}

	var count int
	if record {
		count, err = c.catalog.IncrementDownload(ctx, video.UserID, video.ID)
		if err != nil {
			_ = file.Close()
			logger.Error("record download", "error", err)
			return Asset{}, fmt.Errorf("record download: %w", err)
		}
	}

	logger.Info("video materialized", "size", info.Size(), "downloads", count)
	return Asset{
		Name:            name,
		Size:            info.Size(),
		ModTime:         info.ModTime(),
		Downloads:       count,
		DeleteAfterSend: c.cfg.DeleteAfterSend,
		File:            file,
	}, nil
}

// Release closes the asset and removes the local copy when configured to.
func (c *DownloadCache) Release(asset Asset) {
	if asset.File != nil {
		_ = asset.File.Close()
	}
	if !asset.DeleteAfterSend || asset.Name == "" || c == nil || c.blobs == nil {
		return
	}
	if err := c.blobs.Remove(asset.Name); err != nil {
		slog.Default().Warn("remove cached video", "name", asset.Name, "error", err)
	}
}

// fill checks the remote and, on a cache miss, streams the liveness response
// body into the blob store. Concurrent fills of one name share a single write.
// A caller that joined a write aborted by its owner's cancellation retries
// once with its own response body.
func (c *DownloadCache) fill(ctx context.Context, video models.Video, name string, logger *slog.Logger) error {
	body, err := c.openRemote(ctx, video)
	if err != nil {
		return err
	}
	defer body.Close()

	for attempt := 0; ; attempt++ {
		var owned bool
		_, err, shared := c.flight.Do(name, func() (any, error) {
			owned = true
			return nil, c.write(ctx, name, body, logger)
		})
		if shared && !owned {
			logger.Debug("joined in-flight cache fill")
		}
		if err == nil || owned || attempt > 0 || ctx.Err() != nil || !canceled(err) {
			return err
		}
		logger.Info("joined cache fill was cancelled, retrying", "error", err)
	}
}

func (c *DownloadCache) write(ctx context.Context, name string, body io.Reader, logger *slog.Logger) error {
	exists, err := c.blobs.Exists(name)
	if err != nil {
		return fmt.Errorf("check cache: %w", err)
	}
	if exists {
		return nil
	}

	n, err := c.blobs.Put(ctx, name, body)
	if err != nil {
		return fmt.Errorf("%w: fetch video binary: %w", ErrUpstreamUnavailable, err)
	}
	logger.Info("video cached", "bytes", n)
	c.archiveBlob(ctx, name, logger)
	return nil
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *DownloadCache) archiveBlob(ctx context.Context, name string, logger *slog.Logger) {
	if c.archive == nil {
		return
	}
	f, err := c.blobs.Open(name)
	if err != nil {
		logger.Warn("open blob for archive", "error", err)
		return
	}
	defer f.Close()

	location, err := c.archive.Save(ctx, name, f)
	if err != nil {
		logger.Warn("archive video", "error", err)
		return
	}
	logger.Info("video archived", "location", location)
}

func (c *DownloadCache) openRemote(ctx context.Context, video models.Video) (io.ReadCloser, error) {
	if strings.TrimSpace(video.URL) == "" {
		return nil, c.gone(ctx, video, "video has no remote url")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(video.URL)
	if err != nil {
		logging.FromContext(ctx).Warn("liveness check failed", "videoId", video.ID, "error", err)
		return nil, fmt.Errorf("%w: liveness check: %v", ErrUpstreamUnavailable, err)
	}

	body := resp.RawBody()
	if !resp.IsSuccess() {
		if body != nil {
			_ = body.Close()
		}
		return nil, c.gone(ctx, video, fmt.Sprintf("remote status %d", resp.StatusCode()))
	}
	if body == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return body, nil
}

func (c *DownloadCache) gone(ctx context.Context, video models.Video, reason string) error {
	logger := logging.FromContext(ctx)
	logger.Info("remote video gone, deleting", "videoId", video.ID, "reason", reason)
	if c.catalog != nil {
		if err := c.catalog.DeleteVideo(ctx, video.ID); err != nil {
			logger.Error("delete gone video", "videoId", video.ID, "error", err)
		}
	}
	if c.blobs != nil && video.Permalink != "" {
		_ = c.blobs.Remove(BlobName(video.Permalink))
	}
	return fmt.Errorf("%w: %s", ErrVideoGone, reason)
}
