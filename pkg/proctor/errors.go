package proctor

import "errors"

var (
	// ErrInvalidFrame is returned for an empty or undecodable frame.
	ErrInvalidFrame = errors.New("proctor: invalid frame")

	// ErrEmptyCandidate is returned when no candidate id is given.
	ErrEmptyCandidate = errors.New("proctor: candidate id required")

	// ErrBusy is returned by maintenance calls while a frame is in flight.
	ErrBusy = errors.New("proctor: engine busy")
)
