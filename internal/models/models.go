package models

import "time"

// User is a platform account known to the catalog, either as the owner of a
// mirrored video or as an operator whose credentials may be borrowed.
type User struct {
	ID                int64     `json:"id"`
	ExternalID        string    `json:"userId"`
	Username          string    `json:"username"`
	Role              string    `json:"-"`
	AccessToken       string    `json:"-"`
	AccessTokenSecret string    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

const (
	RoleMember = "member"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// Privileged reports whether the user may lend credentials to privileged lookups.
func (u User) Privileged() bool {
	return u.Role == RoleAdmin || u.Role == RoleStaff
}

// Video is a mirrored post carrying a downloadable binary.
type Video struct {
	ID        int64     `json:"id"`
	TweetID   string    `json:"tweetId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Permalink string    `json:"permalink"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Thumbnail string    `json:"thumbnail"`
	Censor    bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VideoAttrs are the attributes written by an upsert keyed by tweet id.
// PostedAt only seeds created_at on first insert; zero means now.
type VideoAttrs struct {
	UserID    int64
	Permalink string
	Source    string
	URL       string
	Thumbnail string
	PostedAt  time.Time
}

// Page is one fixed-size slice of an ordered video listing.
type Page struct {
	Items       []Video `json:"data"`
	CurrentPage int     `json:"current_page"`
	PerPage     int     `json:"per_page"`
	Total       int     `json:"total"`
	LastPage    int     `json:"last_page"`
}

// Count returns the number of items on the page; a nil page counts as empty.
func (p *Page) Count() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// Well-known config entry names.
const (
	ConfigDownloadWait = "DOWNLOAD_WAIT"
	ConfigTokenWebhook = "TOKEN_WEBHOOK"
)
