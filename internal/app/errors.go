package app

import "errors"

// The error taxonomy surfaced to event callers. Everything else is an
// internal fault and is masked at the boundary.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNotAMember        = errors.New("not a participant of this conversation")
	ErrCallAlreadyActive = errors.New("there is already an active call in this conversation")
	ErrInvalidTransition = errors.New("call cannot change state from current status")
	ErrUnknownCall       = errors.New("call not found")
)
