package videos

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/storage"
)

type downloadCatalogStub struct {
	mu      sync.Mutex
	deleted []int64
	counts  map[[2]int64]int
	err     error
}

func (c *downloadCatalogStub) DeleteVideo(ctx context.Context, id int64) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *downloadCatalogStub) IncrementDownload(ctx context.Context, userID, videoID int64) (int, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[[2]int64]int)
	}
	key := [2]int64{userID, videoID}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *downloadCatalogStub) rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

func (c *downloadCatalogStub) deletedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.deleted...)
}

type countingBlobs struct {
	*storage.Local
	puts atomic.Int32
}

func (b *countingBlobs) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	b.puts.Add(1)
	return b.Local.Put(ctx, name, r)
}

type archiveStub struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (a *archiveStub) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	_ = ctx
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = make(map[string][]byte)
	}
	a.saved[name] = data
	return "videos/" + name, nil
}

const videoBytes = "fake-mp4-payload"

func newVideoServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(videoBytes))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestCache(t *testing.T, catalog DownloadCatalog, archive Archiver, cfg DownloadConfig) (*DownloadCache, *countingBlobs) {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	blobs := &countingBlobs{Local: local}
	return NewDownloadCache(catalog, blobs, archive, cfg), blobs
}

func TestDownloadCacheFirstAndSecondDownload(t *testing.T) {
	srv, hits := newVideoServer(t, http.StatusOK)
	catalog := &downloadCatalogStub{}
	archive := &archiveStub{}
	cache, blobs := newTestCache(t, catalog, archive, DownloadConfig{LivenessTimeout: time.Second})

	video := models.Video{ID: 7, UserID: 3, Permalink: "777", URL: srv.URL + "/777.mp4"}

	asset, err := cache.Materialize(context.Background(), video, true)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	data, err := io.ReadAll(asset.File)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	cache.Release(asset)

	if string(data) != videoBytes {
		t.Fatalf("unexpected content %q", data)
	}
	if asset.Size != int64(len(videoBytes)) {
		t.Fatalf("unexpected size %d", asset.Size)
	}
	if asset.Downloads != 1 {
		t.Fatalf("expected first download count 1 got %d", asset.Downloads)
	}
	if got := blobs.puts.Load(); got != 1 {
		t.Fatalf("expected exactly one cache write got %d", got)
	}
	if _, ok := archive.saved["777.mp4"]; !ok {
		t.Fatal("expected freshly fetched binary to be archived")
	}

	second, err := cache.Materialize(context.Background(), video, true)
	if err != nil {
		t.Fatalf("second Materialize() error = %v", err)
	}
	cache.Release(second)

	if second.Downloads != 2 {
		t.Fatalf("expected second download count 2 got %d", second.Downloads)
	}
	if catalog.rows() != 1 {
		t.Fatalf("expected a single download log row got %d", catalog.rows())
	}
	if got := blobs.puts.Load(); got != 1 {
		t.Fatalf("expected cached binary to be reused, writes=%d", got)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected one liveness request per download got %d", got)
	}
}

func TestDownloadCacheConcurrentFirstDownloads(t *testing.T) {
	srv, _ := newVideoServer(t, http.StatusOK)
	catalog := &downloadCatalogStub{}
	cache, blobs := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: time.Second})
	video := models.Video{ID: 1, UserID: 1, Permalink: "p1", URL: srv.URL}

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			asset, err := cache.Materialize(context.Background(), video, true)
			if err != nil {
				errs <- err
				return
			}
			data, err := io.ReadAll(asset.File)
			cache.Release(asset)
			if err != nil {
				errs <- err
				return
			}
			if string(data) != videoBytes {
				errs <- errors.New("truncated read: " + string(data))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent download: %v", err)
	}

	if got := blobs.puts.Load(); got != 1 {
		t.Fatalf("expected one cache write got %d", got)
	}
	if got := catalog.counts[[2]int64{1, 1}]; got != workers {
		t.Fatalf("expected %d downloads recorded got %d", workers, got)
	}
}

func TestDownloadCacheRemoteGone(t *testing.T) {
	srv, _ := newVideoServer(t, http.StatusNotFound)
	catalog := &downloadCatalogStub{}
	cache, blobs := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: time.Second})
	video := models.Video{ID: 9, UserID: 2, Permalink: "999", URL: srv.URL}

	if _, err := cache.Materialize(context.Background(), video, true); !errors.Is(err, ErrVideoGone) {
		t.Fatalf("expected ErrVideoGone got %v", err)
	}
	if ids := catalog.deletedIDs(); len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("expected video 9 to be deleted got %v", ids)
	}
	if catalog.rows() != 0 {
		t.Fatal("expected no download to be recorded")
	}
	if blobs.puts.Load() != 0 {
		t.Fatal("expected nothing to be cached")
	}

	if err := cache.CheckLiveness(context.Background(), video); !errors.Is(err, ErrVideoGone) {
		t.Fatalf("CheckLiveness() expected ErrVideoGone got %v", err)
	}
}

func TestDownloadCacheLivenessTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	catalog := &downloadCatalogStub{}
	cache, _ := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: 50 * time.Millisecond})
	video := models.Video{ID: 4, UserID: 1, Permalink: "444", URL: srv.URL}

	if _, err := cache.Materialize(context.Background(), video, true); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable got %v", err)
	}
	if ids := catalog.deletedIDs(); len(ids) != 0 {
		t.Fatalf("timeout must not delete the video, deleted %v", ids)
	}
}

func TestDownloadCacheDeleteAfterSend(t *testing.T) {
	srv, _ := newVideoServer(t, http.StatusOK)
	catalog := &downloadCatalogStub{}
	cache, blobs := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: time.Second, DeleteAfterSend: true})
	video := models.Video{ID: 5, UserID: 1, Permalink: "555", URL: srv.URL}

	asset, err := cache.Materialize(context.Background(), video, true)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if !asset.DeleteAfterSend {
		t.Fatal("expected asset to carry delete-after-send policy")
	}
	path, _ := blobs.Path(asset.Name)
	cache.Release(asset)

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected local copy to be removed, stat err = %v", err)
	}
}

func TestDownloadCacheRecordFailure(t *testing.T) {
	srv, _ := newVideoServer(t, http.StatusOK)
	storeErr := errors.New("store unavailable")
	cache, _ := newTestCache(t, &downloadCatalogStub{err: storeErr}, nil, DownloadConfig{LivenessTimeout: time.Second})

	_, err := cache.Materialize(context.Background(), models.Video{ID: 1, UserID: 1, Permalink: "1", URL: srv.URL}, true)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error got %v", err)
	}
}

func TestDownloadCacheUncountedRangeFollowUp(t *testing.T) {
	srv, _ := newVideoServer(t, http.StatusOK)
	catalog := &downloadCatalogStub{}
	cache, _ := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: time.Second})
	video := models.Video{ID: 2, UserID: 8, Permalink: "222", URL: srv.URL}

	first, err := cache.Materialize(context.Background(), video, true)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	cache.Release(first)

	seek, err := cache.Materialize(context.Background(), video, false)
	if err != nil {
		t.Fatalf("uncounted Materialize() error = %v", err)
	}
	cache.Release(seek)

	if seek.Size != int64(len(videoBytes)) {
		t.Fatalf("unexpected size %d", seek.Size)
	}
	if got := catalog.counts[[2]int64{8, 2}]; got != 1 {
		t.Fatalf("expected a single recorded download got %d", got)
	}
}

func TestDownloadCacheCancelledFillDoesNotFailJoinedCaller(t *testing.T) {
	const head, tail = "fake-mp4-", "payload"
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(head))
		w.(http.Flusher).Flush()
		select {
		case <-time.After(250 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(tail))
	}))
	defer srv.Close()

	catalog := &downloadCatalogStub{}
	cache, _ := newTestCache(t, catalog, nil, DownloadConfig{LivenessTimeout: time.Second})
	video := models.Video{ID: 42, UserID: 1, Permalink: "42", URL: srv.URL}

	leaderCtx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	leaderErr := make(chan error, 1)
	go func() {
		asset, err := cache.Materialize(leaderCtx, video, true)
		if err == nil {
			cache.Release(asset)
		}
		leaderErr <- err
	}()

	time.Sleep(40 * time.Millisecond)
	asset, err := cache.Materialize(context.Background(), video, true)
	if err != nil {
		t.Fatalf("joined Materialize() error = %v", err)
	}
	data, err := io.ReadAll(asset.File)
	cache.Release(asset)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if string(data) != head+tail {
		t.Fatalf("unexpected content %q", data)
	}

	if err := <-leaderErr; !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected cancelled caller to fail with ErrUpstreamUnavailable got %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected one liveness request per caller got %d", got)
	}
}
