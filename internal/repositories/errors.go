package repositories

import "errors"

var (
	// ErrNotFound is returned when a requested provenance record does not exist
	ErrNotFound = errors.New("not found")

	// ErrReferentialIntegrity is returned when a relation references a missing entity, activity or agent
	ErrReferentialIntegrity = errors.New("referential integrity violation")

	// ErrMirrorProjection is returned when the graph mirror rejects a write; the relational write is rolled back
	ErrMirrorProjection = errors.New("graph mirror projection failed")
)
