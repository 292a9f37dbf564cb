package search

import "errors"

var (
	// ErrInvalidQuery indicates the search string failed validation.
	ErrInvalidQuery = errors.New("search is required and must be less than 100 characters")
	// ErrNotFound indicates no video matched the effective filter.
	ErrNotFound = errors.New("video not found")
	// ErrNoNewResults indicates a repeated search produced the same number of videos.
	ErrNoNewResults = errors.New("no new videos found")
)
