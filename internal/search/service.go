package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vidmirror/backend/internal/credentials"
	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/videos"
)

// DefaultPageSize is used when the service is constructed without a page size.
const DefaultPageSize = 12

// Catalog is the read side of the video catalog used by searches.
type Catalog interface {
	Exists(ctx context.Context, filter models.Filter) (bool, error)
	ExistsForOwner(ctx context.Context, username, permalink string) (bool, error)
	ListPage(ctx context.Context, filter models.Filter, page, perPage int) (models.Page, error)
}

// Ingestor fetches a video from the platform and stores it in the catalog.
type Ingestor interface {
	FetchAndStore(ctx context.Context, cred credentials.Credential, externalID string) (models.Video, error)
}

// CredentialPool hands out platform credentials for lazy ingestion.
type CredentialPool interface {
	Acquire(ctx context.Context, requirePrivileged bool) (credentials.Credential, error)
}

// State is the per-visitor retrieval cursor. Handlers load it from the
// visitor session, pass it in, and persist whatever the service returns.
type State struct {
	Search string        `json:"search,omitempty"`
	Filter models.Filter `json:"retrieve,omitempty"`
	Page   int           `json:"page,omitempty"`
	Videos *models.Page  `json:"videos,omitempty"`
	Flash  string        `json:"flash,omitempty"`
}

// Service implements accumulating searches over the catalog.
type Service struct {
	Resolver    Resolver
	Catalog     Catalog
	Ingestor    Ingestor
	Credentials CredentialPool
	PageSize    int
}

// Search resolves raw, lazily ingests numeric-id misses, and lists the merged
// filter. On any error the returned state equals the input state.
func (s *Service) Search(ctx context.Context, state State, raw string, page int) (State, models.Page, error) {
	if Normalize(raw) == "" && state.Search != "" {
		raw = state.Search
	}

	query, err := s.Resolver.Resolve(raw)
	if err != nil {
		return state, models.Page{}, err
	}

	logger := logging.FromContext(ctx).With(slog.String("query_kind", query.Kind.String()))

	if query.Kind == KindNumericID {
		if err := s.ingestIfMissing(ctx, logger, query); err != nil {
			return state, models.Page{}, err
		}
	}

	merged := Merge(state.Filter, query.Filter())
	if merged.IsEmpty() {
		return state, models.Page{}, ErrNotFound
	}

	result, err := s.Catalog.ListPage(ctx, merged, normalizePage(page), s.pageSize())
	if err != nil {
		return state, models.Page{}, fmt.Errorf("list videos: %w", err)
	}
	if len(result.Items) == 0 {
		return state, models.Page{}, ErrNotFound
	}
	if state.Videos != nil && state.Videos.Count() == len(result.Items) {
		logger.Info("search produced no new videos", "count", len(result.Items))
		return state, models.Page{}, ErrNoNewResults
	}

	next := state
	next.Search = query.Raw
	next.Filter = merged
	next.Page = result.CurrentPage
	next.Videos = &result
	return next, result, nil
}

// Navigate re-lists the stored filter at page without changing the filter.
func (s *Service) Navigate(ctx context.Context, state State, page int) (State, models.Page, error) {
	if state.Filter.IsEmpty() {
		return state, models.Page{}, ErrNotFound
	}

	result, err := s.Catalog.ListPage(ctx, state.Filter, normalizePage(page), s.pageSize())
	if err != nil {
		return state, models.Page{}, fmt.Errorf("list videos: %w", err)
	}
	if len(result.Items) == 0 {
		return state, models.Page{}, ErrNotFound
	}

	next := state
	next.Page = result.CurrentPage
	next.Videos = &result
	return next, result, nil
}

// NavigatePermalink shows the stored listing narrowed onto a specific
// username/permalink pair. The stored filter is left untouched.
func (s *Service) NavigatePermalink(ctx context.Context, state State, username, permalink string) (State, models.Page, error) {
	query := PermalinkQuery(username, permalink)
	if query.Username == "" || query.Permalink == "" {
		return state, models.Page{}, ErrNotFound
	}

	ok, err := s.Catalog.ExistsForOwner(ctx, query.Username, query.Permalink)
	if err != nil {
		return state, models.Page{}, fmt.Errorf("check video: %w", err)
	}
	if !ok {
		return state, models.Page{}, ErrNotFound
	}

	result, err := s.Catalog.ListPage(ctx, Merge(state.Filter, query.Filter()), 1, s.pageSize())
	if err != nil {
		return state, models.Page{}, fmt.Errorf("list videos: %w", err)
	}
	if len(result.Items) == 0 {
		return state, models.Page{}, ErrNotFound
	}

	next := state
	next.Page = result.CurrentPage
	next.Videos = &result
	return next, result, nil
}

// Refresh re-lists the stored filter at the stored page, for example after a
// video was removed from the catalog.
func (s *Service) Refresh(ctx context.Context, state State) (State, error) {
	if state.Filter.IsEmpty() {
		state.Videos = nil
		return state, nil
	}

	result, err := s.Catalog.ListPage(ctx, state.Filter, normalizePage(state.Page), s.pageSize())
	if err != nil {
		return state, fmt.Errorf("refresh videos: %w", err)
	}
	state.Videos = &result
	return state, nil
}

func (s *Service) ingestIfMissing(ctx context.Context, logger *slog.Logger, query Query) error {
	exists, err := s.Catalog.Exists(ctx, query.Filter())
	if err != nil {
		return fmt.Errorf("check video: %w", err)
	}
	if exists {
		return nil
	}
	if s.Ingestor == nil || s.Credentials == nil {
		logger.Warn("lazy ingestion unavailable", "externalId", query.ExternalID())
		return nil
	}

	cred, err := s.Credentials.Acquire(ctx, true)
	if err != nil {
		return fmt.Errorf("acquire credential: %w", err)
	}

	if _, err := s.Ingestor.FetchAndStore(ctx, cred, query.ExternalID()); err != nil {
		if errors.Is(err, videos.ErrNotFound) {
			logger.Info("video not found upstream", "externalId", query.ExternalID())
			return nil
		}
		return fmt.Errorf("ingest %s: %w", query.ExternalID(), err)
	}
	return nil
}

func (s *Service) pageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
