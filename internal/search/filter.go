package search

import "github.com/vidmirror/backend/internal/models"

// Merge appends the conditions of next to prev, skipping conditions already
// present. The result is a superset of prev; neither input is modified.
func Merge(prev, next models.Filter) models.Filter {
	merged := make(models.Filter, 0, len(prev)+len(next))
	for _, c := range prev {
		if !merged.Contains(c) {
			merged = append(merged, c)
		}
	}
	for _, c := range next {
		if !merged.Contains(c) {
			merged = append(merged, c)
		}
	}
	return merged
}
