package videos

import "errors"

var (
	// ErrNotFound indicates the platform has no video for the requested id.
	ErrNotFound = errors.New("video not found")
	// ErrUpstreamUnavailable indicates a transient failure reaching the platform or a video host.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrVideoGone indicates the stored binary URL no longer resolves; the video has been removed.
	ErrVideoGone = errors.New("video no longer available")
)
