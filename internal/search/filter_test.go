package search

import (
	"testing"

	"github.com/vidmirror/backend/internal/models"
)

func TestMergeAccumulates(t *testing.T) {
	a := models.Eq(models.FieldUsername, "alice")
	b := models.Eq(models.FieldSource, "alice")
	c := models.Eq(models.FieldPermalink, "7")

	prev := models.Filter{a, b}
	merged := Merge(prev, models.Filter{b, c})

	want := models.Filter{a, b, c}
	if len(merged) != len(want) {
		t.Fatalf("expected %d conditions got %+v", len(want), merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("condition %d: expected %+v got %+v", i, want[i], merged[i])
		}
	}
	for _, cond := range prev {
		if !merged.Contains(cond) {
			t.Fatalf("merged filter dropped %+v", cond)
		}
	}
	if len(prev) != 2 {
		t.Fatal("Merge must not modify its inputs")
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil, nil); !got.IsEmpty() {
		t.Fatalf("expected empty filter got %+v", got)
	}
	a := models.Eq(models.FieldTweetID, "1")
	if got := Merge(nil, models.Filter{a, a}); len(got) != 1 {
		t.Fatalf("expected duplicates to collapse got %+v", got)
	}
}
