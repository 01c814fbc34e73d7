package stencil

import "github.com/zoobzio/capitan"

// Field keys for stencil events.
var (
	// KeyVariable is the name of the variable involved in an event.
	KeyVariable = capitan.NewStringKey("variable")

	// KeyTemplate is the name of the template involved in an event.
	KeyTemplate = capitan.NewStringKey("template")

	// KeyVariables is the number of variables in a template.
	KeyVariables = capitan.NewIntKey("variables")

	// KeyErrors is the number of validation errors on a value.
	KeyErrors = capitan.NewIntKey("errors")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyState is the current state of a Reloader.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyDelay is the configured debounce delay for edits.
	KeyDelay = capitan.NewDurationKey("delay")

	// KeyMaxWait is the configured commit ceiling for sustained edits.
	KeyMaxWait = capitan.NewDurationKey("max_wait")

	// KeyDebounce is the configured debounce duration for reloads.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
