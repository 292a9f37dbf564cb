package repositories

import (
	"fmt"
	"strings"

	"github.com/vidmirror/backend/internal/models"
)

var filterColumns = map[models.Field]string{
	models.FieldUsername:  "users.username",
	models.FieldSource:    "videos.source",
	models.FieldPermalink: "videos.permalink",
	models.FieldTweetID:   "videos.tweet_id",
}

var filterOperators = map[string]string{
	models.OpEquals: "=",
}

// buildFilterClause renders filter as an OR-joined, parenthesised predicate
// using positional placeholders starting at $startArg. An empty filter yields
// an empty clause.
func buildFilterClause(filter models.Filter, startArg int) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}

	parts := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for _, cond := range filter {
		column, ok := filterColumns[cond.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: field %q", ErrInvalidFilter, cond.Field)
		}
		op, ok := filterOperators[cond.Operator]
		if !ok {
			return "", nil, fmt.Errorf("%w: operator %q", ErrInvalidFilter, cond.Operator)
		}
		args = append(args, cond.Value)
		parts = append(parts, fmt.Sprintf("%s %s $%d", column, op, startArg+len(args)-1))
	}

	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}
