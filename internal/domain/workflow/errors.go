package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when every guard on a permitted trigger rejects it
	ErrGuardFailed = errors.New("guard condition failed")
)
