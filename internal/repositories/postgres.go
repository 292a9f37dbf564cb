package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidmirror/backend/internal/db"
	"github.com/vidmirror/backend/internal/models"
)

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const videoColumns = `videos.id, videos.tweet_id, videos.user_id, users.username, videos.permalink,
            videos.source, videos.url, videos.thumbnail, videos.censor, videos.created_at, videos.updated_at`

const userColumns = `id, external_id, username, role, access_token, access_token_secret, created_at, updated_at`

func scanVideo(row pgx.Row) (models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.TweetID, &v.UserID, &v.Username, &v.Permalink,
		&v.Source, &v.URL, &v.Thumbnail, &v.Censor, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Role, &u.AccessToken, &u.AccessTokenSecret, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for the video catalog.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Exists reports whether any video, censored or not, matches filter.
func (r *PostgresVideoRepository) Exists(ctx context.Context, filter models.Filter) (bool, error) {
	clause, args, err := buildFilterClause(filter, 1)
	if err != nil {
		return false, err
	}
	if clause == "" {
		return false, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, unavailable("acquire connection", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM videos
            JOIN users ON users.id = videos.user_id
            WHERE `+clause+`
        )
    `, args...).Scan(&exists)
	if err != nil {
		return false, unavailable("check video exists", err)
	}
	return exists, nil
}

// ExistsForOwner reports whether username owns a visible video with permalink.
func (r *PostgresVideoRepository) ExistsForOwner(ctx context.Context, username, permalink string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, unavailable("acquire connection", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM videos
            JOIN users ON users.id = videos.user_id
            WHERE users.username = $1 AND videos.permalink = $2 AND videos.censor = false
        )
    `, username, permalink).Scan(&exists)
	if err != nil {
		return false, unavailable("check owner video exists", err)
	}
	return exists, nil
}

// ListPage returns one page of visible videos matching filter, newest first.
func (r *PostgresVideoRepository) ListPage(ctx context.Context, filter models.Filter, page, perPage int) (models.Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 12
	}
	result := models.Page{CurrentPage: page, PerPage: perPage, LastPage: 1}

	clause, args, err := buildFilterClause(filter, 1)
	if err != nil {
		return models.Page{}, err
	}
	if clause == "" {
		return result, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Page{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	where := `WHERE videos.censor = false AND ` + clause

	var total int
	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM videos
        JOIN users ON users.id = videos.user_id
        `+where, args...).Scan(&total); err != nil {
		return models.Page{}, unavailable("count videos", err)
	}
	result.Total = total
	if total > 0 {
		result.LastPage = (total + perPage - 1) / perPage
	}

	limitArg := len(args) + 1
	rows, err := conn.Query(ctx, fmt.Sprintf(`
        SELECT %s
        FROM videos
        JOIN users ON users.id = videos.user_id
        %s
        ORDER BY videos.created_at DESC, videos.id DESC
        LIMIT $%d OFFSET $%d
    `, videoColumns, where, limitArg, limitArg+1), append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return models.Page{}, unavailable("query videos", err)
	}
	defer rows.Close()

	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return models.Page{}, unavailable("scan video", err)
		}
		result.Items = append(result.Items, video)
	}
	if err := rows.Err(); err != nil {
		return models.Page{}, unavailable("iterate videos", err)
	}

	return result, nil
}

// FindByPermalink loads a visible video by permalink.
func (r *PostgresVideoRepository) FindByPermalink(ctx context.Context, permalink string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	video, err := scanVideo(conn.QueryRow(ctx, `
        SELECT `+videoColumns+`
        FROM videos
        JOIN users ON users.id = videos.user_id
        WHERE videos.permalink = $1 AND videos.censor = false
    `, permalink))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, unavailable("select video by permalink", err)
	}
	return video, nil
}

// UpsertVideo inserts or updates the video keyed by tweetID in a single
// statement. The permalink of an existing row is never changed.
func (r *PostgresVideoRepository) UpsertVideo(ctx context.Context, tweetID string, attrs models.VideoAttrs) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	video, err := upsertVideo(ctx, conn, tweetID, attrs)
	if err != nil {
		return models.Video{}, err
	}

	var username string
	if err := conn.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, video.UserID).Scan(&username); err != nil {
		return models.Video{}, unavailable("select video owner", err)
	}
	video.Username = username
	return video, nil
}

// UpsertVideoWithOwner upserts the owning user and the video in one transaction.
func (r *PostgresVideoRepository) UpsertVideoWithOwner(ctx context.Context, tweetID string, owner models.User, attrs models.VideoAttrs) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return models.Video{}, unavailable("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	user, err := upsertUser(ctx, tx, owner)
	if err != nil {
		return models.Video{}, err
	}

	attrs.UserID = user.ID
	video, err := upsertVideo(ctx, tx, tweetID, attrs)
	if err != nil {
		return models.Video{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, unavailable("commit transaction", err)
	}

	video.Username = user.Username
	return video, nil
}

func upsertVideo(ctx context.Context, q querier, tweetID string, attrs models.VideoAttrs) (models.Video, error) {
	tweetID = strings.TrimSpace(tweetID)
	if tweetID == "" {
		return models.Video{}, fmt.Errorf("upsert video: tweet id is required")
	}
	permalink := strings.TrimSpace(attrs.Permalink)
	if permalink == "" {
		permalink = tweetID
	}

	var postedAt *time.Time
	if !attrs.PostedAt.IsZero() {
		t := attrs.PostedAt.UTC()
		postedAt = &t
	}

	var v models.Video
	err := q.QueryRow(ctx, `
        INSERT INTO videos (tweet_id, user_id, permalink, source, url, thumbnail, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, now()), now())
        ON CONFLICT (tweet_id)
        DO UPDATE SET user_id = EXCLUDED.user_id,
                      source = EXCLUDED.source,
                      url = EXCLUDED.url,
                      thumbnail = EXCLUDED.thumbnail,
                      updated_at = now()
        RETURNING id, tweet_id, user_id, permalink, source, url, thumbnail, censor, created_at, updated_at
    `, tweetID, attrs.UserID, permalink, attrs.Source, attrs.URL, attrs.Thumbnail, postedAt).Scan(
		&v.ID, &v.TweetID, &v.UserID, &v.Permalink, &v.Source, &v.URL, &v.Thumbnail, &v.Censor, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Video{}, ErrConflict
		}
		return models.Video{}, unavailable("upsert video", err)
	}
	return v, nil
}

// DeleteVideo removes a video and, by cascade, its download logs.
func (r *PostgresVideoRepository) DeleteVideo(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return unavailable("acquire connection", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete video", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTrending returns the most downloaded visible videos.
func (r *PostgresVideoRepository) ListTrending(ctx context.Context, limit int) ([]models.Video, error) {
	if limit <= 0 {
		limit = 3
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+videoColumns+`
        FROM videos
        JOIN users ON users.id = videos.user_id
        JOIN (
            SELECT video_id, SUM(count) AS downloads
            FROM download_logs
            GROUP BY video_id
        ) totals ON totals.video_id = videos.id
        WHERE videos.censor = false
        ORDER BY totals.downloads DESC, videos.id DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, unavailable("query trending videos", err)
	}
	defer rows.Close()

	var trending []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, unavailable("scan trending video", err)
		}
		trending = append(trending, video)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate trending videos", err)
	}
	return trending, nil
}

// IncrementDownload creates the (user, video) download log with count 1 or
// atomically increments it, returning the new count.
func (r *PostgresVideoRepository) IncrementDownload(ctx context.Context, userID, videoID int64) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, unavailable("acquire connection", err)
	}
	defer conn.Release()

	var count int
	err = conn.QueryRow(ctx, `
        INSERT INTO download_logs (user_id, video_id, count, created_at, updated_at)
        VALUES ($1, $2, 1, now(), now())
        ON CONFLICT (user_id, video_id)
        DO UPDATE SET count = download_logs.count + 1, updated_at = now()
        RETURNING count
    `, userID, videoID).Scan(&count)
	if err != nil {
		return 0, unavailable("increment download log", err)
	}
	return count, nil
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// UpsertUser inserts a user keyed by external id. An existing user only has
// their username refreshed; role and credentials are left untouched.
func (r *PostgresUserRepository) UpsertUser(ctx context.Context, user models.User) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	return upsertUser(ctx, conn, user)
}

func upsertUser(ctx context.Context, q querier, user models.User) (models.User, error) {
	if strings.TrimSpace(user.ExternalID) == "" {
		return models.User{}, fmt.Errorf("upsert user: external id is required")
	}
	role := user.Role
	if role == "" {
		role = models.RoleMember
	}

	stored, err := scanUser(q.QueryRow(ctx, `
        INSERT INTO users (external_id, username, role, access_token, access_token_secret, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, now(), now())
        ON CONFLICT (external_id)
        DO UPDATE SET username = EXCLUDED.username, updated_at = now()
        RETURNING `+userColumns,
		user.ExternalID, user.Username, role, user.AccessToken, user.AccessTokenSecret))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, unavailable("upsert user", err)
	}
	return stored, nil
}

// Grant stores a user together with their role and sealed credentials,
// overwriting any previous values.
func (r *PostgresUserRepository) Grant(ctx context.Context, user models.User) (models.User, error) {
	if strings.TrimSpace(user.ExternalID) == "" {
		return models.User{}, fmt.Errorf("grant: external id is required")
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	stored, err := scanUser(conn.QueryRow(ctx, `
        INSERT INTO users (external_id, username, role, access_token, access_token_secret, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, now(), now())
        ON CONFLICT (external_id)
        DO UPDATE SET username = EXCLUDED.username,
                      role = EXCLUDED.role,
                      access_token = EXCLUDED.access_token,
                      access_token_secret = EXCLUDED.access_token_secret,
                      updated_at = now()
        RETURNING `+userColumns,
		user.ExternalID, user.Username, user.Role, user.AccessToken, user.AccessTokenSecret))
	if err != nil {
		return models.User{}, unavailable("grant user", err)
	}
	return stored, nil
}

// ListCredentialed returns users holding an access token, optionally
// restricted to privileged roles.
func (r *PostgresUserRepository) ListCredentialed(ctx context.Context, privileged bool) ([]models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE access_token <> ''
          AND ($1 = false OR role IN ('admin', 'staff'))
        ORDER BY id
    `, privileged)
	if err != nil {
		return nil, unavailable("query credentialed users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate users", err)
	}
	return users, nil
}

// PostgresConfigRepository stores named configuration values.
type PostgresConfigRepository struct {
	pool db.Pool
}

// NewPostgresConfigRepository constructs a config repository backed by PostgreSQL.
func NewPostgresConfigRepository(pool db.Pool) *PostgresConfigRepository {
	return &PostgresConfigRepository{pool: pool}
}

// Get returns the value stored under name.
func (r *PostgresConfigRepository) Get(ctx context.Context, name string) (string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", unavailable("acquire connection", err)
	}
	defer conn.Release()

	var value string
	if err := conn.QueryRow(ctx, `SELECT value FROM app_configs WHERE name = $1`, name).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", unavailable("select config", err)
	}
	return value, nil
}

// Put creates or replaces the value stored under name.
func (r *PostgresConfigRepository) Put(ctx context.Context, name, value string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return unavailable("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO app_configs (name, value, created_at, updated_at)
        VALUES ($1, $2, now(), now())
        ON CONFLICT (name)
        DO UPDATE SET value = EXCLUDED.value, updated_at = now()
    `, name, value)
	if err != nil {
		return unavailable("upsert config", err)
	}
	return nil
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
var _ UserRepository = (*PostgresUserRepository)(nil)
var _ ConfigRepository = (*PostgresConfigRepository)(nil)
