package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrConflict reports a conditional update that lost a race with another writer.
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReplayable     = errors.New("note is not failed/dead")
)
