package repositories

import (
	"errors"
	"testing"

	"github.com/vidmirror/backend/internal/models"
)

func TestBuildFilterClause(t *testing.T) {
	filter := models.Filter{
		models.Eq(models.FieldUsername, "alice"),
		models.Eq(models.FieldSource, "alice"),
		models.Eq(models.FieldTweetID, "42"),
	}

	clause, args, err := buildFilterClause(filter, 1)
	if err != nil {
		t.Fatalf("buildFilterClause() error = %v", err)
	}
	want := "(users.username = $1 OR videos.source = $2 OR videos.tweet_id = $3)"
	if clause != want {
		t.Fatalf("unexpected clause\nwant %s\n got %s", want, clause)
	}
	if len(args) != 3 || args[0] != "alice" || args[2] != "42" {
		t.Fatalf("unexpected args %v", args)
	}

	clause, _, err = buildFilterClause(models.Filter{models.Eq(models.FieldPermalink, "p")}, 3)
	if err != nil || clause != "(videos.permalink = $3)" {
		t.Fatalf("unexpected offset clause %q err=%v", clause, err)
	}
}

func TestBuildFilterClauseRejectsUnknown(t *testing.T) {
	cases := []models.Filter{
		{{Field: "videos.url; DROP TABLE videos", Operator: models.OpEquals, Value: "x"}},
		{{Field: models.FieldUsername, Operator: "LIKE", Value: "%"}},
	}
	for _, filter := range cases {
		if _, _, err := buildFilterClause(filter, 1); !errors.Is(err, ErrInvalidFilter) {
			t.Fatalf("expected ErrInvalidFilter for %+v got %v", filter, err)
		}
	}

	clause, args, err := buildFilterClause(nil, 1)
	if err != nil || clause != "" || args != nil {
		t.Fatalf("expected empty clause for empty filter, got %q %v %v", clause, args, err)
	}
}
