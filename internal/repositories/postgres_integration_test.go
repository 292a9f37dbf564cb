package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidmirror/backend/internal/models"
	"github.com/vidmirror/backend/internal/session"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresVideoRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)
	owner := createTestUser(t, users, "42", "alice")

	attrs := models.VideoAttrs{UserID: owner.ID, Source: "alice", URL: "https://video.example.com/1.mp4", Thumbnail: "https://pbs.example.com/1.jpg"}
	first, err := repo.UpsertVideo(ctx, "1001", attrs)
	if err != nil {
		t.Fatalf("upsert video: %v", err)
	}
	if first.Permalink != "1001" || first.Username != "alice" {
		t.Fatalf("expected permalink to default to tweet id and owner to be joined, got %+v", first)
	}

	second, err := repo.UpsertVideo(ctx, "1001", attrs)
	if err != nil {
		t.Fatalf("second upsert video: %v", err)
	}
	if second.ID != first.ID || second.URL != attrs.URL || second.Thumbnail != attrs.Thumbnail {
		t.Fatalf("expected the same row with identical attributes, got %+v vs %+v", first, second)
	}
	if n := countRows(t, "videos"); n != 1 {
		t.Fatalf("expected exactly one video row, got %d", n)
	}

	attrs.URL = "https://video.example.com/1-hd.mp4"
	attrs.Permalink = "renamed"
	updated, err := repo.UpsertVideo(ctx, "1001", attrs)
	if err != nil {
		t.Fatalf("updating upsert: %v", err)
	}
	if updated.URL != attrs.URL || updated.Permalink != "1001" {
		t.Fatalf("expected url updated and permalink kept, got %+v", updated)
	}
}

func TestPostgresVideoRepository_ConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)
	owner := createTestUser(t, users, "7", "carol")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.UpsertVideo(ctx, "2002", models.VideoAttrs{UserID: owner.ID, Source: "carol", URL: "https://video.example.com/2.mp4"})
		}()
	}
	wg.Wait()

	if n := countRows(t, "videos"); n != 1 {
		t.Fatalf("expected concurrent upserts to leave one row, got %d", n)
	}
}

func TestPostgresVideoRepository_UpsertWithOwner(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)

	admin, err := users.Grant(ctx, models.User{ExternalID: "55", Username: "dave", Role: models.RoleAdmin, AccessToken: "sealed"})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	video, err := repo.UpsertVideoWithOwner(ctx, "3003", models.User{ExternalID: "55", Username: "dave_renamed", Role: models.RoleMember}, models.VideoAttrs{
		Permalink: "3003",
		Source:    "dave_renamed",
		URL:       "https://video.example.com/3.mp4",
	})
	if err != nil {
		t.Fatalf("upsert with owner: %v", err)
	}
	if video.UserID != admin.ID || video.Username != "dave_renamed" {
		t.Fatalf("expected existing owner to be reused and renamed, got %+v", video)
	}

	credentialed, err := users.ListCredentialed(ctx, true)
	if err != nil {
		t.Fatalf("list credentialed: %v", err)
	}
	if len(credentialed) != 1 || credentialed[0].Role != models.RoleAdmin || credentialed[0].AccessToken != "sealed" {
		t.Fatalf("expected ingestion to leave role and credentials untouched, got %+v", credentialed)
	}

	// a permalink collision aborts the whole transaction
	_, err = repo.UpsertVideoWithOwner(ctx, "3004", models.User{ExternalID: "56", Username: "erin"}, models.VideoAttrs{Permalink: "3003"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on permalink collision, got %v", err)
	}
	if n := countRows(t, "users"); n != 1 {
		t.Fatalf("expected owner insert to roll back, found %d users", n)
	}
}

func TestPostgresVideoRepository_ListPageAndExists(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)
	alice := createTestUser(t, users, "1", "alice")
	bob := createTestUser(t, users, "2", "bob")

	for i := 0; i < 3; i++ {
		if _, err := repo.UpsertVideo(ctx, fmt.Sprintf("10%d", i), models.VideoAttrs{UserID: alice.ID, Source: "alice"}); err != nil {
			t.Fatalf("upsert alice video: %v", err)
		}
	}
	hidden, err := repo.UpsertVideo(ctx, "200", models.VideoAttrs{UserID: bob.ID, Source: "bob"})
	if err != nil {
		t.Fatalf("upsert bob video: %v", err)
	}
	if _, err := testPool.Exec(ctx, `UPDATE videos SET censor = true WHERE id = $1`, hidden.ID); err != nil {
		t.Fatalf("censor video: %v", err)
	}

	handle := models.Filter{models.Eq(models.FieldUsername, "alice"), models.Eq(models.FieldSource, "alice")}
	page, err := repo.ListPage(ctx, handle, 1, 2)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if page.Total != 3 || page.LastPage != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].ID < page.Items[1].ID {
		t.Fatalf("expected newest first, got %d before %d", page.Items[0].ID, page.Items[1].ID)
	}

	second, err := repo.ListPage(ctx, handle, 2, 2)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 {
		t.Fatalf("expected one item on the second page, got %d", len(second.Items))
	}

	bobFilter := models.Filter{models.Eq(models.FieldTweetID, "200")}
	exists, err := repo.Exists(ctx, bobFilter)
	if err != nil || !exists {
		t.Fatalf("expected censored video to still exist, exists=%v err=%v", exists, err)
	}
	listed, err := repo.ListPage(ctx, bobFilter, 1, 12)
	if err != nil {
		t.Fatalf("list censored: %v", err)
	}
	if len(listed.Items) != 0 {
		t.Fatal("expected censored video to be excluded from listings")
	}

	ok, err := repo.ExistsForOwner(ctx, "alice", "101")
	if err != nil || !ok {
		t.Fatalf("expected alice to own 101, ok=%v err=%v", ok, err)
	}
	ok, err = repo.ExistsForOwner(ctx, "bob", "101")
	if err != nil || ok {
		t.Fatalf("expected bob not to own 101, ok=%v err=%v", ok, err)
	}

	if _, err := repo.ListPage(ctx, models.Filter{{Field: "videos.url", Operator: "=", Value: "x"}}, 1, 12); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestPostgresVideoRepository_PostedAtOrdersListing(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)
	owner := createTestUser(t, users, "7", "gina")

	older := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	// ingested out of order: the older post arrives last
	if _, err := repo.UpsertVideo(ctx, "701", models.VideoAttrs{UserID: owner.ID, Source: "gina", PostedAt: newer}); err != nil {
		t.Fatalf("upsert newer video: %v", err)
	}
	first, err := repo.UpsertVideo(ctx, "700", models.VideoAttrs{UserID: owner.ID, Source: "gina", PostedAt: older})
	if err != nil {
		t.Fatalf("upsert older video: %v", err)
	}
	if !first.CreatedAt.Equal(older) {
		t.Fatalf("expected created_at %v got %v", older, first.CreatedAt)
	}

	again, err := repo.UpsertVideo(ctx, "700", models.VideoAttrs{UserID: owner.ID, Source: "gina", PostedAt: newer.Add(time.Hour)})
	if err != nil {
		t.Fatalf("re-upsert older video: %v", err)
	}
	if !again.CreatedAt.Equal(older) {
		t.Fatalf("expected created_at to stay %v got %v", older, again.CreatedAt)
	}

	page, err := repo.ListPage(ctx, models.Filter{models.Eq(models.FieldSource, "gina")}, 1, 12)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].TweetID != "701" || page.Items[1].TweetID != "700" {
		t.Fatalf("expected newest post first, got %+v", page.Items)
	}
}

func TestPostgresVideoRepository_DownloadsAndTrending(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	repo := NewPostgresVideoRepository(testPool)
	owner := createTestUser(t, users, "1", "alice")

	var ids []int64
	for i := 0; i < 4; i++ {
		v, err := repo.UpsertVideo(ctx, fmt.Sprintf("50%d", i), models.VideoAttrs{UserID: owner.ID, Source: "alice"})
		if err != nil {
			t.Fatalf("upsert video: %v", err)
		}
		ids = append(ids, v.ID)
	}

	for i, id := range ids[:3] {
		for n := 0; n <= i; n++ {
			if _, err := repo.IncrementDownload(ctx, owner.ID, id); err != nil {
				t.Fatalf("increment download: %v", err)
			}
		}
	}

	count, err := repo.IncrementDownload(ctx, owner.ID, ids[2])
	if err != nil {
		t.Fatalf("increment download: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
	if n := countRows(t, "download_logs"); n != 3 {
		t.Fatalf("expected one log row per video, got %d", n)
	}

	trending, err := repo.ListTrending(ctx, 3)
	if err != nil {
		t.Fatalf("list trending: %v", err)
	}
	if len(trending) != 3 || trending[0].ID != ids[2] || trending[2].ID != ids[0] {
		t.Fatalf("unexpected trending order: %+v", trending)
	}

	if err := repo.DeleteVideo(ctx, ids[2]); err != nil {
		t.Fatalf("delete video: %v", err)
	}
	if err := repo.DeleteVideo(ctx, ids[2]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
	if _, err := repo.FindByPermalink(ctx, "502"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted video to be gone, got %v", err)
	}
	if n := countRows(t, "download_logs"); n != 2 {
		t.Fatalf("expected download logs to cascade, got %d rows", n)
	}
}

func TestPostgresUserRepository_UpsertAndGrant(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	created, err := repo.UpsertUser(ctx, models.User{ExternalID: "9", Username: "frank"})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if created.Role != models.RoleMember {
		t.Fatalf("expected default member role, got %q", created.Role)
	}

	if _, err := repo.Grant(ctx, models.User{ExternalID: "9", Username: "frank", Role: models.RoleStaff, AccessToken: "tok"}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := repo.Grant(ctx, models.User{ExternalID: "10", Username: "gina", Role: models.RoleMember, AccessToken: "tok2"}); err != nil {
		t.Fatalf("grant member: %v", err)
	}
	if _, err := repo.UpsertUser(ctx, models.User{ExternalID: "11", Username: "hank"}); err != nil {
		t.Fatalf("upsert user without token: %v", err)
	}

	all, err := repo.ListCredentialed(ctx, false)
	if err != nil {
		t.Fatalf("list credentialed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two users with tokens, got %d", len(all))
	}

	privileged, err := repo.ListCredentialed(ctx, true)
	if err != nil {
		t.Fatalf("list privileged: %v", err)
	}
	if len(privileged) != 1 || privileged[0].Username != "frank" {
		t.Fatalf("expected only the staff user, got %+v", privileged)
	}

	again, err := repo.UpsertUser(ctx, models.User{ExternalID: "9", Username: "frank2", Role: models.RoleMember})
	if err != nil {
		t.Fatalf("re-upsert user: %v", err)
	}
	if again.ID != created.ID || again.Username != "frank2" || again.Role != models.RoleStaff || again.AccessToken != "tok" {
		t.Fatalf("expected only username to change, got %+v", again)
	}
}

func TestPostgresConfigRepository_GetPut(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresConfigRepository(testPool)
	if _, err := repo.Get(ctx, models.ConfigTokenWebhook); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Put(ctx, models.ConfigTokenWebhook, "first"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := repo.Put(ctx, models.ConfigTokenWebhook, "second"); err != nil {
		t.Fatalf("put again: %v", err)
	}
	value, err := repo.Get(ctx, models.ConfigTokenWebhook)
	if err != nil || value != "second" {
		t.Fatalf("expected latest value, got %q err=%v", value, err)
	}
}

func TestPostgresSessionStore_SaveFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	record := session.Record{
		ID:        uuid.NewString(),
		Data:      []byte(`{"search":"@alice"}`),
		ExpiresAt: expires,
	}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, record.ID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}

	if string(loaded.Data) != string(record.Data) || !timesClose(loaded.ExpiresAt, expires, time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	updated := record
	updated.Data = []byte(`{"search":"@bob"}`)
	updated.ExpiresAt = expires.Add(48 * time.Hour)
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("update session: %v", err)
	}

	loaded, err = store.Find(ctx, record.ID)
	if err != nil {
		t.Fatalf("find session after update: %v", err)
	}

	if string(loaded.Data) != string(updated.Data) || !timesClose(loaded.ExpiresAt, updated.ExpiresAt, time.Millisecond) {
		t.Fatalf("expected updated session, got %+v", loaded)
	}

	if err := store.Delete(ctx, record.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if _, err := store.Find(ctx, record.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}

	if err := store.Delete(ctx, record.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}

	stale := session.Record{ID: uuid.NewString(), Data: []byte(`{}`), ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("save stale session: %v", err)
	}
	purged, err := store.DeleteExpired(ctx, time.Now())
	if err != nil || purged != 1 {
		t.Fatalf("expected one purged session, got %d err=%v", purged, err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE download_logs, videos, users, app_configs, visitor_sessions CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := testPool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, externalID, username string) models.User {
	t.Helper()
	user, err := repo.UpsertUser(context.Background(), models.User{ExternalID: externalID, Username: username})
	if err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, tolerance time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
