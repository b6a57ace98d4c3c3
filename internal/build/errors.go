package build

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional write's precondition no longer holds.
	// Another actor owns the transition, so callers re-read instead of retrying.
	ErrConflict         = errors.New("conflict")
	ErrAlreadyStarted   = fmt.Errorf("already started: %w", ErrConflict)
	ErrAlreadyCompleted = fmt.Errorf("already completed: %w", ErrConflict)

	ErrIntegrity          = errors.New("integrity")
	ErrMissingImage       = fmt.Errorf("missing docker image: %w", ErrIntegrity)
	ErrMissingContentHash = fmt.Errorf("missing content hash: %w", ErrIntegrity)

	ErrAccessDenied = errors.New("access denied")
	ErrInvalid      = errors.New("invalid")
	ErrFileTooLarge = fmt.Errorf("file too large: %w", ErrInvalid)
)
