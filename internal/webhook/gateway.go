package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/platform"
	"github.com/vidmirror/backend/internal/videos"
)

var (
	// ErrSecretMissing indicates no consumer secret is configured for challenges.
	ErrSecretMissing = errors.New("webhook secret not configured")
	// ErrEmptyPayload indicates a push delivery without a body.
	ErrEmptyPayload = errors.New("webhook payload empty")
	// ErrMalformedPayload indicates a push delivery that is not valid JSON.
	ErrMalformedPayload = errors.New("webhook payload malformed")
)

// ConfigStore persists named configuration values.
type ConfigStore interface {
	Put(ctx context.Context, name, value string) error
}

// Enqueuer hands ingestion work to the background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job videos.IngestJob) error
}

// Payload is the subset of an account activity delivery that is consumed.
type Payload struct {
	ForUserID         string            `json:"for_user_id"`
	TweetCreateEvents []platform.Status `json:"tweet_create_events"`
}

// Gateway answers ownership challenges and accepts push deliveries.
type Gateway struct {
	secret string
	config ConfigStore
	queue  Enqueuer
}

// NewGateway constructs a Gateway signing challenges with secret.
func NewGateway(secret string, config ConfigStore, queue Enqueuer) *Gateway {
	return &Gateway{secret: secret, config: config, queue: queue}
}

// Sign returns "sha256=" followed by the base64 HMAC-SHA256 of token keyed by secret.
func Sign(secret, token string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Challenge records token and returns the signed response token. It never
// touches the ingestion path.
func (g *Gateway) Challenge(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(g.secret) == "" {
		return "", ErrSecretMissing
	}
	if g.config != nil {
		if err := g.config.Put(ctx, models.ConfigTokenWebhook, token); err != nil {
			return "", fmt.Errorf("persist webhook token: %w", err)
		}
	}
	return Sign(g.secret, token), nil
}

// Accept parses a push delivery and enqueues its video references. It returns
// the number of references queued; a delivery without references is accepted.
func (g *Gateway) Accept(ctx context.Context, body []byte) (int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return 0, ErrEmptyPayload
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	refs := payload.VideoReferences()
	logger := logging.FromContext(ctx)
	if len(refs) == 0 {
		logger.Debug("webhook delivery carried no video references", "forUserId", payload.ForUserID)
		return 0, nil
	}
	if g.queue == nil {
		return 0, fmt.Errorf("webhook queue not configured")
	}

	job := videos.IngestJob{DeliveryID: uuid.NewString(), ExternalIDs: refs}
	if err := g.queue.Enqueue(ctx, job); err != nil {
		return 0, fmt.Errorf("enqueue delivery: %w", err)
	}
	logger.Info("webhook delivery queued", "deliveryId", job.DeliveryID, "references", len(refs))
	return len(refs), nil
}

// VideoReferences lists the post ids worth ingesting: each event carrying
// video media, plus the posts it replies to or quotes. Duplicates collapse.
func (p Payload) VideoReferences() []string {
	var refs []string
	seen := make(map[string]struct{})
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		refs = append(refs, id)
	}

	for _, event := range p.TweetCreateEvents {
		if event.HasVideo() {
			add(event.IDStr)
		}
		add(event.InReplyToStatusIDStr)
		add(event.QuotedStatusIDStr)
	}
	return refs
}
