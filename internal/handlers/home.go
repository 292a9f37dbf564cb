package handlers

import (
	"net/http"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
)

// TrendingCount is the number of trending videos the home page shows; a
// shorter list is hidden entirely.
const TrendingCount = 3

// HomeHandler renders the visitor's current listing and trending videos.
type HomeHandler struct {
	Sessions visitorSessions
	Videos   VideoFinder
}

type homeResponse struct {
	Search string         `json:"search,omitempty"`
	Videos *models.Page   `json:"videos"`
	Flash  string         `json:"flash,omitempty"`
	Trends []models.Video `json:"trends"`
}

// Index handles GET /. A pending flash message is shown once and cleared.
func (h HomeHandler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	id, state := h.Sessions.load(w, r)
	response := homeResponse{Search: state.Search, Videos: state.Videos, Flash: state.Flash}

	if state.Flash != "" {
		state.Flash = ""
		h.Sessions.save(ctx, id, state)
	}

	if h.Videos != nil {
		trends, err := h.Videos.ListTrending(ctx, TrendingCount)
		if err != nil {
			logger.Warn("list trending videos", "error", err)
		} else if len(trends) == TrendingCount {
			response.Trends = trends
		}
	}

	respondJSON(ctx, w, http.StatusOK, response)
}
