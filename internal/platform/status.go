package platform

import (
	"strings"
	"time"
)

// Status mirrors the subset of a platform post object consumed here. The same
// shape appears in lookup responses and webhook tweet_create_events.
type Status struct {
	IDStr                string         `json:"id_str"`
	CreatedAt            string         `json:"created_at"`
	InReplyToStatusIDStr string         `json:"in_reply_to_status_id_str"`
	QuotedStatusIDStr    string         `json:"quoted_status_id_str"`
	User                 StatusUser     `json:"user"`
	ExtendedEntities     StatusEntities `json:"extended_entities"`
}

// StatusUser is the author embedded in a Status.
type StatusUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

// StatusEntities holds attached media.
type StatusEntities struct {
	Media []Media `json:"media"`
}

// Media is a single attachment.
type Media struct {
	Type          string    `json:"type"`
	MediaURLHTTPS string    `json:"media_url_https"`
	VideoInfo     VideoInfo `json:"video_info"`
}

// VideoInfo lists encoded renditions of a video attachment.
type VideoInfo struct {
	Variants []Variant `json:"variants"`
}

// Variant is one rendition.
type Variant struct {
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// Post is the normalized result of a video lookup.
type Post struct {
	ID        string
	UserID    string
	Username  string
	VideoURL  string
	Thumbnail string
	PostedAt  time.Time
}

const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// VideoMedia returns the first video or animated gif attachment.
func (s Status) VideoMedia() (Media, bool) {
	for _, m := range s.ExtendedEntities.Media {
		if m.Type == "video" || m.Type == "animated_gif" {
			return m, true
		}
	}
	return Media{}, false
}

// HasVideo reports whether the status carries a downloadable video.
func (s Status) HasVideo() bool {
	_, ok := s.VideoMedia()
	return ok
}

// BestVariant picks the highest bitrate mp4 rendition.
func (m Media) BestVariant() (Variant, bool) {
	var (
		best  Variant
		found bool
	)
	for _, v := range m.VideoInfo.Variants {
		if !strings.EqualFold(v.ContentType, "video/mp4") || v.URL == "" {
			continue
		}
		if !found || v.Bitrate > best.Bitrate {
			best = v
			found = true
		}
	}
	return best, found
}

// ToPost normalizes a status carrying video media. ok is false when the
// status has no usable video.
func (s Status) ToPost() (Post, bool) {
	media, ok := s.VideoMedia()
	if !ok || s.IDStr == "" || s.User.IDStr == "" {
		return Post{}, false
	}
	variant, ok := media.BestVariant()
	if !ok {
		return Post{}, false
	}

	post := Post{
		ID:        s.IDStr,
		UserID:    s.User.IDStr,
		Username:  s.User.ScreenName,
		VideoURL:  variant.URL,
		Thumbnail: media.MediaURLHTTPS,
	}
	if t, err := time.Parse(createdAtLayout, s.CreatedAt); err == nil {
		post.PostedAt = t.UTC()
	}
	return post, true
}
