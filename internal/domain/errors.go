package domain

import "errors"

// Business rejections. Every layer wraps these with %w so callers can match
// with errors.Is regardless of how much context was added on the way up.
var (
	// ErrNotFound is returned when a project, role, request or chat does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized is returned when the actor may not perform the command.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrDuplicateRequest is returned when a pending request already exists
	// for the same project, role and user.
	ErrDuplicateRequest = errors.New("duplicate pending request")

	// ErrRoleUnavailable is returned when a request targets a role that is filled.
	ErrRoleUnavailable = errors.New("role unavailable")

	// ErrRoleAlreadyFilled is returned when an accept loses the race for a role.
	ErrRoleAlreadyFilled = errors.New("role already filled")

	// ErrInvalidTransition is returned for any transition out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidReason is returned when a decline reason is missing or too short.
	ErrInvalidReason = errors.New("invalid decline reason")

	// ErrInvalidInput covers malformed commands.
	ErrInvalidInput = errors.New("invalid input")
)
