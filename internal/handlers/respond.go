package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidmirror/backend/internal/credentials"
	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/repositories"
	"github.com/vidmirror/backend/internal/search"
	"github.com/vidmirror/backend/internal/videos"
)

const genericFailure = "something went wrong"

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// errorResponder maps domain errors onto HTTP statuses. Internal failures
// only expose their cause in debug mode.
type errorResponder struct {
	debug bool
}

func (e errorResponder) status(err error) (int, string) {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		return http.StatusUnprocessableEntity, search.ErrInvalidQuery.Error()
	case errors.Is(err, search.ErrNoNewResults):
		return http.StatusConflict, search.ErrNoNewResults.Error()
	case errors.Is(err, search.ErrNotFound),
		errors.Is(err, videos.ErrNotFound),
		errors.Is(err, videos.ErrVideoGone),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound, search.ErrNotFound.Error()
	case errors.Is(err, videos.ErrUpstreamUnavailable):
		return http.StatusBadGateway, e.detail(err, "video service temporarily unavailable")
	case errors.Is(err, credentials.ErrNoCredentialAvailable):
		return http.StatusInternalServerError, e.detail(err, "video lookup is not configured")
	default:
		return http.StatusInternalServerError, e.detail(err, genericFailure)
	}
}

func (e errorResponder) detail(err error, fallback string) string {
	if e.debug && err != nil {
		return err.Error()
	}
	return fallback
}

func (e errorResponder) respond(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := e.status(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request error", "error", err)
	}
	respondJSON(ctx, w, status, messageResponse{Message: message})
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}
