package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotFound indicates the post does not exist, is not visible to the
	// credential, or carries no video.
	ErrNotFound = errors.New("platform post not found")
	// ErrUnavailable indicates a transport failure, timeout, rate limit or server error.
	ErrUnavailable = errors.New("platform unavailable")
)

const lookupPath = "/1.1/statuses/show.json"

// Client performs authenticated lookups against the platform API.
type Client struct {
	http *resty.Client
}

// NewClient constructs a platform client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(timeout)

	return &Client{http: client}
}

// LookupVideo fetches a single post by id using the supplied bearer token.
func (c *Client) LookupVideo(ctx context.Context, token, id string) (Post, error) {
	if c == nil || c.http == nil {
		return Post{}, ErrUnavailable
	}

	var status Status
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"id":               id,
			"tweet_mode":       "extended",
			"include_entities": "true",
		}).
		ForceContentType("application/json").
		SetResult(&status).
		Get(lookupPath)
	if err != nil {
		return Post{}, fmt.Errorf("%w: lookup %s: %v", ErrUnavailable, id, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound, code == http.StatusForbidden, code == http.StatusUnauthorized:
		return Post{}, fmt.Errorf("%w: lookup %s: status %d", ErrNotFound, id, code)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return Post{}, fmt.Errorf("%w: lookup %s: status %d", ErrUnavailable, id, code)
	case !resp.IsSuccess():
		return Post{}, fmt.Errorf("%w: lookup %s: unexpected status %d", ErrUnavailable, id, code)
	}

	post, ok := status.ToPost()
	if !ok {
		return Post{}, fmt.Errorf("%w: post %s has no video", ErrNotFound, id)
	}
	return post, nil
}
