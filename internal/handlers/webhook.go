package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/webhook"
)

const maxWebhookBody = 1 << 20

// WebhookHandler serves the platform's CRC challenge and push deliveries.
type WebhookHandler struct {
	Gateway WebhookGateway

	errors errorResponder
}

type challengeResponse struct {
	ResponseToken string `json:"response_token"`
}

type deliveryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handle implements GET and POST /webhook.
func (h WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Gateway == nil {
		logger.Error("webhook handler missing dependencies")
		respondJSON(ctx, w, http.StatusInternalServerError, deliveryResponse{Status: "error", Message: "webhook unavailable"})
		return
	}

	if token := strings.TrimSpace(r.FormValue("crc_token")); token != "" {
		response, err := h.Gateway.Challenge(ctx, token)
		if err != nil {
			logger.Error("webhook challenge failed", "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, deliveryResponse{Status: "error", Message: h.errors.detail(err, "challenge failed")})
			return
		}
		respondJSON(ctx, w, http.StatusOK, challengeResponse{ResponseToken: response})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn("read webhook body", "error", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Push failures never carry detail back to the platform.
	queued, err := h.Gateway.Accept(ctx, body)
	switch {
	case errors.Is(err, webhook.ErrEmptyPayload), errors.Is(err, webhook.ErrMalformedPayload):
		logger.Warn("rejected webhook delivery", "error", err)
		w.WriteHeader(http.StatusNotFound)
		return
	case err != nil:
		logger.Error("webhook delivery not queued", "error", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	message := "no video references"
	if queued > 0 {
		message = "queued for ingestion"
	}
	respondJSON(ctx, w, http.StatusOK, deliveryResponse{Status: "ok", Message: message})
}
