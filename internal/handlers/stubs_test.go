package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/search"
	"github.com/vidmirror/backend/internal/session"
	"github.com/vidmirror/backend/internal/videos"
)

type searchStub struct {
	mu sync.Mutex

	next    search.State
	page    models.Page
	err     error
	lastRaw string
	lastPg  int
	seen    search.State
	calls   []string
}

func (s *searchStub) record(call string, state search.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	s.seen = state
}

func (s *searchStub) Search(_ context.Context, state search.State, raw string, page int) (search.State, models.Page, error) {
	s.record("search", state)
	s.lastRaw = raw
	s.lastPg = page
	if s.err != nil {
		return state, models.Page{}, s.err
	}
	return s.next, s.page, nil
}

func (s *searchStub) Navigate(_ context.Context, state search.State, page int) (search.State, models.Page, error) {
	s.record("navigate", state)
	s.lastPg = page
	if s.err != nil {
		return state, models.Page{}, s.err
	}
	return s.next, s.page, nil
}

func (s *searchStub) NavigatePermalink(_ context.Context, state search.State, username, permalink string) (search.State, models.Page, error) {
	s.record("permalink:"+username+"/"+permalink, state)
	if s.err != nil {
		return state, models.Page{}, s.err
	}
	return s.next, s.page, nil
}

func (s *searchStub) Refresh(_ context.Context, state search.State) (search.State, error) {
	s.record("refresh", state)
	state.Videos = &models.Page{CurrentPage: 1, PerPage: 12, LastPage: 1}
	return state, nil
}

type videoFinderStub struct {
	videos map[string]models.Video
	trends []models.Video
	err    error
}

func (v videoFinderStub) FindByPermalink(_ context.Context, permalink string) (models.Video, error) {
	if v.err != nil {
		return models.Video{}, v.err
	}
	video, ok := v.videos[permalink]
	if !ok {
		return models.Video{}, videos.ErrNotFound
	}
	return video, nil
}

func (v videoFinderStub) ListTrending(context.Context, int) ([]models.Video, error) {
	return v.trends, v.err
}

type downloaderStub struct {
	livenessErr    error
	materializeErr error
	path           string
	released       int
	recorded       []bool
}

func (d *downloaderStub) CheckLiveness(context.Context, models.Video) error {
	return d.livenessErr
}

func (d *downloaderStub) Materialize(_ context.Context, video models.Video, record bool) (videos.Asset, error) {
	d.recorded = append(d.recorded, record)
	if d.materializeErr != nil {
		return videos.Asset{}, d.materializeErr
	}
	file, err := os.Open(d.path)
	if err != nil {
		return videos.Asset{}, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return videos.Asset{}, err
	}
	return videos.Asset{
		Name:      videos.BlobName(video.Permalink),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Downloads: 1,
		File:      file,
	}, nil
}

func (d *downloaderStub) Release(asset videos.Asset) {
	d.released++
	if asset.File != nil {
		asset.File.Close()
	}
}

type configStub map[string]string

func (c configStub) Get(_ context.Context, name string) (string, error) {
	value, ok := c[name]
	if !ok {
		return "", videos.ErrNotFound
	}
	return value, nil
}

type limiterStub struct {
	allow bool
	keys  []string
}

func (l *limiterStub) Allow(key string) bool {
	l.keys = append(l.keys, key)
	return l.allow
}

func newSessions() *session.Manager {
	return session.NewManager(time.Hour, session.NewInMemoryStore())
}

// seedSession stores state under a fresh id and returns the matching cookie.
func seedSession(t *testing.T, sessions *session.Manager, state search.State) *http.Cookie {
	t.Helper()

	id, err := sessions.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if err := sessions.Save(context.Background(), id, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return &http.Cookie{Name: SessionCookie, Value: id}
}

func loadSession(t *testing.T, sessions *session.Manager, cookie *http.Cookie) search.State {
	t.Helper()

	var state search.State
	if err := sessions.Load(context.Background(), cookie.Value, &state); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return state
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func writeVideoFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write video file: %v", err)
	}
	return path
}
