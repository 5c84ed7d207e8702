package repository

import "errors"

var (
	// ErrNotFound is returned when a referenced node does not exist.
	ErrNotFound = errors.New("node not found")
	// ErrUnavailable is returned when the graph backend cannot be reached.
	// Callers decide whether to retry.
	ErrUnavailable = errors.New("graph store unavailable")
	// ErrDimensionMismatch is returned when an image vector length differs
	// from the vectors already stored.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")
	// ErrExtractionUnavailable is returned when the extraction model fails.
	ErrExtractionUnavailable = errors.New("extraction model unavailable")
	// ErrFeatureUnavailable is returned when an embedding cannot be produced.
	ErrFeatureUnavailable = errors.New("feature extraction unavailable")
)
