package videos

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vidmirror/backend/internal/credentials"
	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/models"
)

// Fetcher ingests a single post.
type Fetcher interface {
	FetchAndStore(ctx context.Context, cred credentials.Credential, externalID string) (models.Video, error)
}

// CredentialSource lends platform credentials to background ingestion.
type CredentialSource interface {
	Acquire(ctx context.Context, requirePrivileged bool) (credentials.Credential, error)
}

// IngestJob is one push delivery's worth of post ids.
type IngestJob struct {
	DeliveryID  string
	ExternalIDs []string
}

// IngestQueueConfig controls the concurrency characteristics of the queue.
type IngestQueueConfig struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

// IngestQueue asynchronously ingests videos referenced by webhook deliveries.
// Failed ingestions are logged and never retried.
type IngestQueue struct {
	fetcher     Fetcher
	credentials CredentialSource
	timeout     time.Duration
	logger      *slog.Logger

	jobs   chan IngestJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("ingest queue closed")
	// ErrQueueFull is returned by Enqueue when every buffer slot is taken.
	ErrQueueFull = errors.New("ingest queue full")
)

// NewIngestQueue starts a worker pool draining webhook ingestion jobs.
func NewIngestQueue(fetcher Fetcher, creds CredentialSource, cfg IngestQueueConfig, logger *slog.Logger) *IngestQueue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &IngestQueue{
		fetcher:     fetcher,
		credentials: creds,
		timeout:     cfg.JobTimeout,
		logger:      logger,
		jobs:        make(chan IngestJob, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	return q
}

// Enqueue schedules a job without blocking. A full buffer drops the job; the
// platform re-delivers pushes it did not see acknowledged.
func (q *IngestQueue) Enqueue(ctx context.Context, job IngestJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		logging.FromContext(ctx).Warn("ingest queue full, dropping delivery",
			"deliveryId", job.DeliveryID, "references", len(job.ExternalIDs), "capacity", cap(q.jobs))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight work to finish.
// Jobs still buffered when the workers observe the stop are dropped.
func (q *IngestQueue) Shutdown(ctx context.Context) error {
	// jobs stays open; workers exit once ctx is cancelled.
	q.once.Do(q.cancel)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (q *IngestQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.handleJob(job)
		}
	}
}

func (q *IngestQueue) handleJob(job IngestJob) {
	if q.fetcher == nil || q.credentials == nil {
		q.logger.Error("ingest queue missing dependencies", "hasFetcher", q.fetcher != nil, "hasCredentials", q.credentials != nil)
		return
	}

	base := logging.With(logging.WithLogger(context.Background(), q.logger), slog.String("deliveryId", job.DeliveryID))
	for _, id := range job.ExternalIDs {
		q.ingest(base, id)
	}
}

func (q *IngestQueue) ingest(base context.Context, externalID string) {
	ctx, cancel := context.WithTimeout(base, q.timeout)
	defer cancel()
	logger := logging.FromContext(ctx)

	cred, err := q.credentials.Acquire(ctx, true)
	if err != nil {
		logger.Error("acquire credential for push ingestion", "externalId", externalID, "error", err)
		return
	}

	video, err := q.fetcher.FetchAndStore(ctx, cred, externalID)
	if err != nil {
		logger.Error("push ingestion failed", "externalId", externalID, "error", err)
		return
	}
	logger.Info("push ingestion stored video", "externalId", externalID, "videoId", video.ID)
}
