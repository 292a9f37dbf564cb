package models

// Field names a column a retrieval condition may match against.
type Field string

const (
	FieldUsername  Field = "users.username"
	FieldSource    Field = "videos.source"
	FieldPermalink Field = "videos.permalink"
	FieldTweetID   Field = "videos.tweet_id"
)

// OpEquals is the only operator produced by query resolution.
const OpEquals = "="

// Condition is a single (field, operator, value) triple.
type Condition struct {
	Field    Field  `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Filter is an ordered set of conditions combined with OR.
type Filter []Condition

// Eq builds an equality condition.
func Eq(field Field, value string) Condition {
	return Condition{Field: field, Operator: OpEquals, Value: value}
}

// Contains reports whether the filter already holds the condition.
func (f Filter) Contains(c Condition) bool {
	for _, existing := range f {
		if existing == c {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the filter selects nothing.
func (f Filter) IsEmpty() bool {
	return len(f) == 0
}
