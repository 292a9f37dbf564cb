package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vidmirror/backend/internal/logging"
)

// SearchHandler exposes accumulating search and listing navigation.
type SearchHandler struct {
	Search   SearchService
	Sessions visitorSessions

	errors errorResponder
}

type searchRequest struct {
	Search string `json:"search"`
	Page   int    `json:"page"`
}

// Search handles GET and POST /api/v1/search.
func (h SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Search == nil {
		logger.Error("search handler missing dependencies")
		respondJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "search unavailable"})
		return
	}

	req, err := decodeSearchRequest(r)
	if err != nil {
		logger.Warn("invalid search payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}

	id, state := h.Sessions.load(w, r)
	next, page, err := h.Search.Search(ctx, state, req.Search, req.Page)
	if err != nil {
		h.errors.respond(ctx, w, err)
		return
	}

	h.Sessions.save(ctx, id, next)
	respondJSON(ctx, w, http.StatusOK, messageResponse{Message: "videos found", Data: page})
}

// Page handles GET /api/v1/search/page/{page}.
func (h SearchHandler) Page(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Search == nil {
		respondJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "search unavailable"})
		return
	}

	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		respondJSON(ctx, w, http.StatusNotFound, messageResponse{Message: "page not found"})
		return
	}

	id, state := h.Sessions.load(w, r)
	next, result, err := h.Search.Navigate(ctx, state, page)
	if err != nil {
		h.errors.respond(ctx, w, err)
		return
	}

	h.Sessions.save(ctx, id, next)
	respondJSON(ctx, w, http.StatusOK, messageResponse{Message: "videos found", Data: result})
}

// Retrieve handles GET /{username}/{permalink}. It narrows the visitor's
// listing onto one video and redirects to the home page, flashing a message
// when the video is unknown.
func (h SearchHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Search == nil {
		respondJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: "search unavailable"})
		return
	}

	username := chi.URLParam(r, "username")
	permalink := chi.URLParam(r, "permalink")

	id, state := h.Sessions.load(w, r)
	next, _, err := h.Search.NavigatePermalink(ctx, state, username, permalink)
	if err != nil {
		status, message := h.errors.status(err)
		if status >= http.StatusInternalServerError {
			logger.Error("retrieve video failed", "username", username, "permalink", permalink, "error", err)
		}
		state.Flash = message
		h.Sessions.save(ctx, id, state)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	h.Sessions.save(ctx, id, next)
	http.Redirect(w, r, "/#videos", http.StatusSeeOther)
}

func decodeSearchRequest(r *http.Request) (searchRequest, error) {
	var req searchRequest
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return searchRequest{}, err
		}
		return req, nil
	}

	req.Search = r.FormValue("search")
	if raw := strings.TrimSpace(r.FormValue("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return searchRequest{}, err
		}
		req.Page = page
	}
	return req, nil
}
