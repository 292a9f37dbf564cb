package handlers

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/videos"
)

const goneFlash = "video no longer available"

// VideoHandler serves video detail and binary downloads.
type VideoHandler struct {
	Videos    VideoFinder
	Downloads Downloader
	Search    SearchService
	Config    ConfigReader
	Sessions  visitorSessions
	SiteTitle string

	errors errorResponder
}

type videoDetailResponse struct {
	Title string       `json:"title"`
	Video models.Video `json:"video"`
	Wait  int          `json:"wait"`
}

// Detail handles GET /video/{permalink}.
func (h VideoHandler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Videos == nil || h.Downloads == nil {
		logger.Error("video handler missing dependencies")
		respondJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "videos unavailable"})
		return
	}

	video, err := h.Videos.FindByPermalink(ctx, chi.URLParam(r, "permalink"))
	if err != nil {
		h.errors.respond(ctx, w, err)
		return
	}

	if err := h.Downloads.CheckLiveness(ctx, video); err != nil {
		if errors.Is(err, videos.ErrVideoGone) {
			h.redirectGone(w, r)
			return
		}
		h.errors.respond(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, videoDetailResponse{
		Title: h.title(video),
		Video: video,
		Wait:  h.downloadWait(r),
	})
}

// Download handles GET /download/{permalink}. The binary is streamed with
// range support and released once the response is written.
func (h VideoHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Videos == nil || h.Downloads == nil {
		logger.Error("video handler missing dependencies")
		respondJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "videos unavailable"})
		return
	}

	video, err := h.Videos.FindByPermalink(ctx, chi.URLParam(r, "permalink"))
	if err != nil {
		h.errors.respond(ctx, w, err)
		return
	}

	asset, err := h.Downloads.Materialize(ctx, video, countsAsDownload(r))
	if err != nil {
		if errors.Is(err, videos.ErrVideoGone) {
			h.redirectGone(w, r)
			return
		}
		h.errors.respond(ctx, w, err)
		return
	}
	defer h.Downloads.Release(asset)

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": h.filename(video),
	}))
	logger.Info("serving video", "permalink", video.Permalink, "size", asset.Size, "downloads", asset.Downloads)
	http.ServeContent(w, r, asset.Name, asset.ModTime, asset.File)
}

// countsAsDownload reports whether r starts a new download. Players seeking
// through a file issue ranges past byte 0, which are not counted again.
func countsAsDownload(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Range"))
	if header == "" {
		return true
	}
	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return false
	}
	first, _, _ := strings.Cut(ranges, ",")
	start, _, _ := strings.Cut(first, "-")
	return strings.TrimSpace(start) == "0"
}

// redirectGone refreshes the visitor's listing after the catalog dropped a
// video and sends them home with a flash message.
func (h VideoHandler) redirectGone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, state := h.Sessions.load(w, r)

	next := state
	if h.Search != nil {
		refreshed, err := h.Search.Refresh(ctx, state)
		if err != nil {
			logging.FromContext(ctx).Warn("refresh listing after removal", "error", err)
		} else {
			next = refreshed
		}
	}
	next.Flash = goneFlash
	h.Sessions.save(ctx, id, next)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h VideoHandler) title(video models.Video) string {
	site := h.siteTitle()
	if video.Username == "" {
		return site
	}
	return fmt.Sprintf("%s | @%s", site, video.Username)
}

func (h VideoHandler) filename(video models.Video) string {
	return fmt.Sprintf("%s_%s.mp4", h.siteTitle(), video.Permalink)
}

func (h VideoHandler) siteTitle() string {
	if strings.TrimSpace(h.SiteTitle) == "" {
		return "vidmirror"
	}
	return h.SiteTitle
}

// downloadWait reads the countdown shown before a download starts. Missing or
// invalid values mean no wait.
func (h VideoHandler) downloadWait(r *http.Request) int {
	if h.Config == nil {
		return 0
	}
	value, err := h.Config.Get(r.Context(), models.ConfigDownloadWait)
	if err != nil {
		logging.FromContext(r.Context()).Debug("download wait not configured", "error", err)
		return 0
	}
	wait, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || wait < 0 {
		return 0
	}
	return wait
}

