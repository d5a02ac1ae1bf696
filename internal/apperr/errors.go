package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidRange     = errors.New("invalid range")
	ErrInvalidHarmonic  = errors.New("invalid harmonic")
	ErrUnknownAspectSet = errors.New("unknown aspect set")
)
