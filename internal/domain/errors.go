package domain

import "errors"

var (
	// ErrMissingPrerequisite means an upstream artifact a stage depends on is absent.
	ErrMissingPrerequisite = errors.New("missing prerequisite")

	// ErrUnreadableSource means a discovered source file could not be parsed.
	ErrUnreadableSource = errors.New("unreadable source")

	// ErrDetectorUnavailable means the configured anomaly detector cannot be used.
	ErrDetectorUnavailable = errors.New("anomaly detector unavailable")

	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)
