package nexus

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("nexus: invalid configuration")

	// ErrEmptyQuery is returned when a run is requested with a blank query.
	ErrEmptyQuery = errors.New("nexus: query is empty")

	// ErrLessonNotFound is returned when a lesson ID does not exist.
	ErrLessonNotFound = errors.New("nexus: lesson not found")

	// ErrSearchFailed is returned when the research capability fails and the
	// unbiased retry fails too. The run transitions to FAILED with this cause.
	ErrSearchFailed = errors.New("nexus: web research failed")

	// ErrGenerationFailed is returned when a generation capability call fails
	// or times out at a stage that has no degraded fallback.
	ErrGenerationFailed = errors.New("nexus: generation failed")
)
