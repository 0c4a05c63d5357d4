package service

import "errors"

var (
	// ErrUnknownStage is returned when a transition targets a stage the registry does not know.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownTool is returned for a tool name the registry does not know.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingCallID is returned when a request carries no call reference.
	ErrMissingCallID = errors.New("missing call id")
	// ErrInvalidSweep is returned for sweep bounds that select nothing.
	ErrInvalidSweep = errors.New("invalid sweep bounds")
)
