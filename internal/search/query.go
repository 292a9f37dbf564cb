package search

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vidmirror/backend/internal/models"
)

// MaxQueryLength bounds the raw search string after normalization.
const MaxQueryLength = 100

// Kind tags the variant held by a Query.
type Kind int

const (
	KindAmbiguous Kind = iota
	KindHandle
	KindNumericID
	KindPermalink
)

func (k Kind) String() string {
	switch k {
	case KindHandle:
		return "handle"
	case KindNumericID:
		return "numeric_id"
	case KindPermalink:
		return "permalink"
	default:
		return "ambiguous"
	}
}

// Query is the resolved form of a visitor search.
type Query struct {
	Kind      Kind
	Handle    string
	ID        int64
	Username  string
	Permalink string
	Raw       string
}

// Resolver turns free text into a Query.
type Resolver struct {
	// OwnerHandle is the site's own account; searching for it is rejected.
	OwnerHandle string
}

// Normalize removes whitespace and control characters from a raw search.
func Normalize(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
}

// Resolve validates the raw string and classifies it.
func (r Resolver) Resolve(raw string) (Query, error) {
	search := Normalize(raw)
	if search == "" || utf8.RuneCountInString(search) > MaxQueryLength {
		return Query{}, ErrInvalidQuery
	}
	owner := strings.TrimPrefix(strings.TrimSpace(r.OwnerHandle), "@")
	if owner != "" && strings.EqualFold(search, "@"+owner) {
		return Query{}, ErrInvalidQuery
	}

	if strings.HasPrefix(search, "@") {
		handle := strings.ReplaceAll(search, "@", "")
		if handle == "" {
			return Query{}, ErrInvalidQuery
		}
		return Query{Kind: KindHandle, Handle: handle, Raw: search}, nil
	}

	segment := lastPathSegment(search)
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id <= 0 {
		return Query{Kind: KindAmbiguous, Raw: search}, nil
	}
	return Query{Kind: KindNumericID, ID: id, Raw: search}, nil
}

// PermalinkQuery builds the variant used by path-addressed retrieval.
func PermalinkQuery(username, permalink string) Query {
	return Query{
		Kind:      KindPermalink,
		Username:  strings.TrimSpace(username),
		Permalink: strings.TrimSpace(permalink),
		Raw:       permalink,
	}
}

// Filter returns the conditions selecting the query's videos.
func (q Query) Filter() models.Filter {
	switch q.Kind {
	case KindHandle:
		return models.Filter{
			models.Eq(models.FieldUsername, q.Handle),
			models.Eq(models.FieldSource, q.Handle),
		}
	case KindNumericID:
		id := strconv.FormatInt(q.ID, 10)
		return models.Filter{
			models.Eq(models.FieldPermalink, id),
			models.Eq(models.FieldTweetID, id),
		}
	case KindPermalink:
		return models.Filter{models.Eq(models.FieldPermalink, q.Permalink)}
	case KindAmbiguous:
		return nil
	default:
		return nil
	}
}

// ExternalID returns the platform id for numeric queries.
func (q Query) ExternalID() string {
	if q.Kind != KindNumericID {
		return ""
	}
	return strconv.FormatInt(q.ID, 10)
}

func lastPathSegment(search string) string {
	p := search
	if u, err := url.Parse(search); err == nil && u.Path != "" {
		p = u.Path
	}
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}
