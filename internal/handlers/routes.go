package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Search      SearchService
	Sessions    SessionStore
	Videos      VideoFinder
	Downloads   Downloader
	Config      ConfigReader
	Webhook     WebhookGateway
	RateLimiter RateLimiter
	SiteTitle   string
	Debug       bool
	Database    Pinger
}

// NewRouter wires HTTP handlers into a chi router.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, deps)
	return r
}

// RegisterRoutes wires HTTP handlers into the provided router.
func RegisterRoutes(r chi.Router, deps Dependencies) {
	visitors := visitorSessions{store: deps.Sessions}
	errs := errorResponder{debug: deps.Debug}

	health := HealthHandler{Database: deps.Database}
	home := HomeHandler{Sessions: visitors, Videos: deps.Videos}
	searches := SearchHandler{Search: deps.Search, Sessions: visitors, errors: errs}
	videos := VideoHandler{
		Videos:    deps.Videos,
		Downloads: deps.Downloads,
		Search:    deps.Search,
		Config:    deps.Config,
		Sessions:  visitors,
		SiteTitle: deps.SiteTitle,
		errors:    errs,
	}
	webhook := WebhookHandler{Gateway: deps.Webhook, errors: errs}

	r.Get("/healthz", health.Handle)
	r.Get("/", home.Index)

	r.Route("/api/v1/search", func(r chi.Router) {
		r.With(rateLimit(deps.RateLimiter, scopeSearch)).Get("/", searches.Search)
		r.With(rateLimit(deps.RateLimiter, scopeSearch)).Post("/", searches.Search)
		r.Get("/page/{page}", searches.Page)
	})

	r.Get("/video/{permalink}", videos.Detail)
	r.With(rateLimit(deps.RateLimiter, scopeDownload)).Get("/download/{permalink}", videos.Download)

	// Push deliveries arrive from a handful of shared platform addresses, so
	// only challenges are limited; the ingest queue bounds delivery work.
	r.With(rateLimit(deps.RateLimiter, scopeWebhook)).Get("/webhook", webhook.Handle)
	r.Post("/webhook", webhook.Handle)

	r.Get("/{username}/{permalink}", searches.Retrieve)
}
